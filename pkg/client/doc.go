// Package client implements the client role of a session: an editor or IDE
// talking to a language server or a debug adapter.
//
// A Client wraps a registry holding the handlers for requests the server
// sends to the client, such as workspace/configuration or runInTerminal.
// The capabilities it announces at initialize follow from those handlers,
// merged with any extra capabilities given through WithCapabilities.
//
// Language clients answer client/registerCapability and
// client/unregisterCapability themselves and keep track of the server's
// dynamic registrations. Debug clients fold capabilities events into the
// server capabilities. Supports reports whether the server currently offers
// a method either way.
//
// # Connecting to a Server
//
//	reg := registry.New(protocol.LSP())
//	reg.Register(registry.HandlerFunc(configuration), protocol.MethodWorkspaceConfiguration, protocol.ServerToClient)
//
//	c, err := client.New(reg, client.WithName("example-editor"))
//	if err != nil {
//	    return err
//	}
//	conn, err := transport.NewTransport(ctx, transport.TransportConfig{
//	    Protocol: transport.ProtocolLSP,
//	    Type:     transport.TransportTypeTCP,
//	    Address:  "127.0.0.1:7777",
//	})
//	if err != nil {
//	    return err
//	}
//	if _, err := c.Connect(ctx, conn); err != nil {
//	    return err
//	}
//	if _, err := c.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer c.Shutdown(ctx)
//
//	var hover lsp.Hover
//	err = c.Call(ctx, protocol.MethodHover, params, &hover)
package client
