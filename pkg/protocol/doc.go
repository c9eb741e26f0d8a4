// Package protocol defines the wire envelopes and method catalogs of the
// language server protocol (LSP) and the debug adapter protocol (DAP).
//
// # Package Organization
//
//   - jsonrpc.go: JSON-RPC 2.0 requests, responses, notifications, error
//     codes and message classification
//   - schema.go: the Schema type, directions and execution modes
//   - lsp.go: LSP method names and the LSP schema
//   - dap.go: DAP commands and events, the DAP schema and the mapping of DAP
//     messages onto JSON-RPC envelopes
//
// # Schemas
//
// A Schema is the fixed catalog of methods one protocol knows. Each entry
// records who may send the method, whether it expects a response, and how
// the dispatcher runs its handlers:
//
//   - Serial requests are answered by exactly one handler
//   - Parallel requests fan out to every matching handler and merge results
//   - Ordered notifications are handled in arrival order per document
//   - Supersede requests answer an older in-flight request for the same
//     document with ContentModified
//
// Provide methods that have a resolve counterpart (codeLens and
// codeLens/resolve) are linked both ways through ResolveMethod and
// ResolveOf.
//
// # Debug adapter messages
//
// DAP frames carry seq numbers instead of JSON-RPC ids. Envelope turns a
// request into a *Request whose ID is the seq, and an event into a
// *Notification, so both protocols share one dispatcher.
//
//	msg, err := protocol.DecodeDAPMessage(body)
//	if err != nil {
//	    return err
//	}
//	switch m := msg.Envelope().(type) {
//	case *protocol.Request:
//	    // m.ID is the request seq
//	case *protocol.Notification:
//	    // m.Method is the event name
//	}
package protocol
