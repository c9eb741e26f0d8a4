// Package langrpc implements the plumbing shared by language servers, debug
// adapters and their clients: a registry of handlers, dispatch of incoming
// messages to them, and capability negotiation derived from what is
// registered.
//
// This package is the root of the module and re-exports the constructors
// of the sub-packages.
//
// # Overview
//
//   - pkg/protocol: JSON-RPC envelopes, LSP and DAP method schemas
//   - pkg/codec: decoding of LSP sum types (bool-or-options and friends)
//   - pkg/registry: versioned handler registry with snapshots
//   - pkg/selector: document selectors and the open-document tracker
//   - pkg/dispatch: routing, fan-out, ordering, cancellation, partial results
//   - pkg/resolve: routing of resolve requests back to their provider
//   - pkg/capability: capability tables, negotiation and diffs
//   - pkg/transport: LSP and DAP framing over stdio or TCP
//   - pkg/server, pkg/client: the two roles of a session
//   - pkg/errors, pkg/logging, pkg/observability: ambient concerns
//
// # Creating a Language Server
//
//	reg := langrpc.NewRegistry(langrpc.LSP())
//	reg.RegisterResolvable(provideLenses, resolveLens,
//	    protocol.MethodCodeLens, langrpc.ClientToServer,
//	    langrpc.WithSelector(selector.Language("go")))
//
//	srv, err := langrpc.NewServer(reg, langrpc.WithServerName("example-ls"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The server answers initialize with codeLensProvider {resolveProvider:
// true}, routes every codeLens/resolve back to the handler that produced
// the lens, and registers handlers added later through
// client/registerCapability.
//
// # Creating a Debug Adapter
//
// The same registry and server types serve DAP when the registry uses the
// DAP schema:
//
//	reg := langrpc.NewRegistry(langrpc.DAP())
//	reg.Register(registry.HandlerFunc(launch), protocol.CommandLaunch, langrpc.ClientToServer)
//	srv, err := langrpc.NewServer(reg)
//
// See the examples directory for complete programs.
package langrpc
