// Package server implements the server role of a session: a language server
// or a debug adapter.
//
// A Server wraps a registry of handlers. It owns the lifecycle methods,
// negotiates capabilities with the peer at initialize and dispatches every
// other message through a dispatch.Dispatcher. Which protocol it speaks
// follows from the registry's schema.
//
// # Lifecycle
//
// Language servers answer initialize with the negotiated capabilities and
// their serverInfo. Requests before initialize fail with ServerNotInitialized;
// requests after shutdown fail with InvalidRequest. exit ends the session,
// and ExitCode reports 0 only if shutdown came first.
//
// Debug adapters answer initialize with a dap.Capabilities body, then send
// the initialized event. disconnect ends the session.
//
// # Dynamic registration
//
// Handlers registered or removed after initialization are renegotiated once
// the configured debounce interval passes. Language servers push the
// difference with client/registerCapability and client/unregisterCapability
// for methods the client registers dynamically. Debug adapters send a
// capabilities event.
//
// # Creating a Server
//
//	reg := registry.New(protocol.LSP())
//	reg.Register(registry.HandlerFunc(hover), protocol.MethodHover, protocol.ClientToServer)
//
//	srv, err := server.New(reg,
//	    server.WithName("example-ls"),
//	    server.WithVersion("1.0.0"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Serves stdio until exit (blocking)
//	return srv.Start(ctx)
//
// Configuration can also be loaded from YAML with LoadConfig and passed
// with WithConfig.
package server
