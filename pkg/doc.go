// Package pkg holds the components of the langrpc runtime. Import the
// sub-packages directly, or the root package for the common constructors.
//
// # Package Organization
//
//   - protocol: JSON-RPC envelopes and the LSP and DAP method schemas
//   - codec: sum-type decoding for LSP values
//   - registry: the handler registry
//   - selector: document selectors and matching
//   - dispatch: message dispatch to registered handlers
//   - resolve: correlation of resolve requests with their provider
//   - capability: capability negotiation
//   - transport: LSP and DAP framing over stdio and TCP
//   - server: the server role (language server, debug adapter)
//   - client: the client role (editor, debugger UI)
//   - errors: structured errors and wire error codes
//   - logging: structured logging on zerolog
//   - observability: Prometheus metrics and OpenTelemetry tracing
//   - utils: test helpers
package pkg
