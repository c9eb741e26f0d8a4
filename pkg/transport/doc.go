// Package transport frames language server and debug adapter traffic over a
// byte stream.
//
// Two protocols are supported:
//
//   - ProtocolLSP: JSON-RPC 2.0 with Content-Length headers, via go.lsp.dev/jsonrpc2.
//   - ProtocolDAP: debug adapter messages with sequence numbers, via github.com/google/go-dap.
//
// Both run over stdio (how editors launch servers and adapters) or a TCP
// connection. A Conn decodes incoming messages into the envelope types of the
// protocol package and hands them to a Handler, normally a
// *dispatch.Dispatcher. Outgoing requests go through Call, which tells the
// peer to cancel when its context ends first.
//
// # Usage
//
//	conn, err := transport.NewTransport(ctx, transport.DefaultTransportConfig(transport.ProtocolLSP))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	d := dispatch.New(reg, protocol.ClientToServer)
//	return conn.Run(ctx, d)
//
// Malformed LSP frames end the connection. Malformed DAP messages are logged
// and dropped, since DAP has no way to answer a message without a sequence
// number.
package transport
