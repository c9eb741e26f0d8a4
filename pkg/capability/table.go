// Package capability derives the capability object a session advertises
// from the handlers it has registered and the capabilities of its peer.
//
// A Table declares, per method, where in the capability tree a handler is
// advertised and which peer capability it depends on. Negotiation is a pure
// function of the table, the peer capabilities and a registry snapshot.
package capability

import (
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// Entry maps one method onto the capability tree.
type Entry struct {
	Method string
	// Direction of the handlers that provide the capability.
	Direction protocol.Direction
	// Key is the dot separated path of the capability.
	Key string
	// Prerequisite is a gjson path into the peer capabilities that must be
	// truthy for the capability to be advertised.
	Prerequisite string
	// ObjectOnly entries render as an options object even without options.
	ObjectOnly bool
	// Flag entries set a boolean member inside Key instead of owning it,
	// like resolveProvider for resolve methods.
	Flag string
	// Render computes a non-boolean value from the merged options.
	Render func(opts map[string]interface{}) interface{}
	// Dynamic is the peer capability path whose dynamicRegistration member
	// allows registering the method at runtime.
	Dynamic string
}

// Table is a fixed set of entries for one protocol role.
type Table struct {
	name     string
	entries  []Entry
	byMethod map[string]Entry
}

// NewTable builds a table. Entries are evaluated in declaration order.
func NewTable(name string, entries ...Entry) *Table {
	t := &Table{name: name, entries: entries, byMethod: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		t.byMethod[e.Method] = e
	}
	return t
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// Entry returns the entry of method.
func (t *Table) Entry(method string) (Entry, bool) {
	e, ok := t.byMethod[method]
	return e, ok
}

// Entries returns the entries in declaration order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

func server(method, key string) Entry {
	return Entry{Method: method, Direction: protocol.ClientToServer, Key: key}
}

func withObject(e Entry) Entry {
	e.ObjectOnly = true
	return e
}

func withDynamic(e Entry, path string) Entry {
	e.Dynamic = path
	return e
}

func flag(method, key, name string) Entry {
	return Entry{Method: method, Direction: protocol.ClientToServer, Key: key, Flag: name}
}

func syncChange(opts map[string]interface{}) interface{} {
	if v, ok := opts["change"]; ok {
		return v
	}
	return lsp.TextDocumentSyncKindFull
}

var lspServerTable = NewTable("lsp-server",
	server(protocol.MethodDidOpen, "textDocumentSync.openClose"),
	server(protocol.MethodDidClose, "textDocumentSync.openClose"),
	Entry{Method: protocol.MethodDidChange, Direction: protocol.ClientToServer, Key: "textDocumentSync.change", Render: syncChange},
	server(protocol.MethodWillSave, "textDocumentSync.willSave"),
	server(protocol.MethodWillSaveWaitUntil, "textDocumentSync.willSaveWaitUntil"),
	server(protocol.MethodDidSave, "textDocumentSync.save"),

	withDynamic(withObject(server(protocol.MethodCompletion, "completionProvider")), "textDocument.completion"),
	flag(protocol.MethodCompletionResolve, "completionProvider", "resolveProvider"),
	withDynamic(server(protocol.MethodHover, "hoverProvider"), "textDocument.hover"),
	withDynamic(withObject(server(protocol.MethodSignatureHelp, "signatureHelpProvider")), "textDocument.signatureHelp"),
	withDynamic(server(protocol.MethodDeclaration, "declarationProvider"), "textDocument.declaration"),
	withDynamic(server(protocol.MethodDefinition, "definitionProvider"), "textDocument.definition"),
	withDynamic(server(protocol.MethodTypeDefinition, "typeDefinitionProvider"), "textDocument.typeDefinition"),
	withDynamic(server(protocol.MethodImplementation, "implementationProvider"), "textDocument.implementation"),
	withDynamic(server(protocol.MethodReferences, "referencesProvider"), "textDocument.references"),
	withDynamic(server(protocol.MethodDocumentHighlight, "documentHighlightProvider"), "textDocument.documentHighlight"),
	withDynamic(server(protocol.MethodDocumentSymbol, "documentSymbolProvider"), "textDocument.documentSymbol"),
	withDynamic(server(protocol.MethodCodeAction, "codeActionProvider"), "textDocument.codeAction"),
	flag(protocol.MethodCodeActionResolve, "codeActionProvider", "resolveProvider"),
	withDynamic(withObject(server(protocol.MethodCodeLens, "codeLensProvider")), "textDocument.codeLens"),
	flag(protocol.MethodCodeLensResolve, "codeLensProvider", "resolveProvider"),
	withDynamic(withObject(server(protocol.MethodDocumentLink, "documentLinkProvider")), "textDocument.documentLink"),
	flag(protocol.MethodDocumentLinkResolve, "documentLinkProvider", "resolveProvider"),
	withDynamic(server(protocol.MethodDocumentColor, "colorProvider"), "textDocument.colorProvider"),
	withDynamic(server(protocol.MethodFormatting, "documentFormattingProvider"), "textDocument.formatting"),
	withDynamic(server(protocol.MethodRangeFormatting, "documentRangeFormattingProvider"), "textDocument.rangeFormatting"),
	withDynamic(withObject(server(protocol.MethodOnTypeFormatting, "documentOnTypeFormattingProvider")), "textDocument.onTypeFormatting"),
	withDynamic(server(protocol.MethodRename, "renameProvider"), "textDocument.rename"),
	flag(protocol.MethodPrepareRename, "renameProvider", "prepareProvider"),
	withDynamic(server(protocol.MethodFoldingRange, "foldingRangeProvider"), "textDocument.foldingRange"),
	withDynamic(server(protocol.MethodSelectionRange, "selectionRangeProvider"), "textDocument.selectionRange"),
	Entry{
		Method: protocol.MethodSemanticTokensFull, Direction: protocol.ClientToServer,
		Key: "semanticTokensProvider", Flag: "full", Prerequisite: "textDocument.semanticTokens",
		Dynamic: "textDocument.semanticTokens",
	},
	Entry{
		Method: protocol.MethodSemanticTokensRange, Direction: protocol.ClientToServer,
		Key: "semanticTokensProvider", Flag: "range", Prerequisite: "textDocument.semanticTokens",
	},
	withDynamic(server(protocol.MethodInlayHint, "inlayHintProvider"), "textDocument.inlayHint"),
	flag(protocol.MethodInlayHintResolve, "inlayHintProvider", "resolveProvider"),

	withDynamic(server(protocol.MethodWorkspaceSymbol, "workspaceSymbolProvider"), "workspace.symbol"),
	withDynamic(withObject(server(protocol.MethodExecuteCommand, "executeCommandProvider")), "workspace.executeCommand"),
	Entry{
		Method: protocol.MethodDidChangeWorkspaceFolders, Direction: protocol.ClientToServer,
		Key: "workspace.workspaceFolders.supported", Prerequisite: "workspace.workspaceFolders",
	},
	withDynamic(Entry{Method: protocol.MethodDidChangeWatchedFiles, Direction: protocol.ClientToServer}, "workspace.didChangeWatchedFiles"),
	withDynamic(Entry{Method: protocol.MethodDidChangeConfiguration, Direction: protocol.ClientToServer}, "workspace.didChangeConfiguration"),
)

func client(method, key string) Entry {
	return Entry{Method: method, Direction: protocol.ServerToClient, Key: key}
}

var lspClientTable = NewTable("lsp-client",
	client(protocol.MethodWorkspaceApplyEdit, "workspace.applyEdit"),
	client(protocol.MethodWorkspaceConfiguration, "workspace.configuration"),
	client(protocol.MethodWorkspaceFolders, "workspace.workspaceFolders"),
	client(protocol.MethodCodeLensRefresh, "workspace.codeLens.refreshSupport"),
	client(protocol.MethodSemanticTokensRefresh, "workspace.semanticTokens.refreshSupport"),
	client(protocol.MethodWorkDoneProgressCreate, "window.workDoneProgress"),
	withObject(client(protocol.MethodShowMessageRequest, "window.showMessage")),
	withObject(client(protocol.MethodPublishDiagnostics, "textDocument.publishDiagnostics")),
)

func adapter(command, key string) Entry {
	return Entry{Method: command, Direction: protocol.ClientToServer, Key: key}
}

func exceptionFilters(opts map[string]interface{}) interface{} {
	if v, ok := opts["filters"]; ok {
		return v
	}
	return []interface{}{}
}

var dapTable = NewTable("dap",
	adapter(protocol.CommandConfigurationDone, "supportsConfigurationDoneRequest"),
	adapter(protocol.CommandSetFunctionBreakpoints, "supportsFunctionBreakpoints"),
	Entry{Method: protocol.CommandSetExceptionBreakpoints, Direction: protocol.ClientToServer, Key: "exceptionBreakpointFilters", Render: exceptionFilters},
	adapter(protocol.CommandCompletions, "supportsCompletionsRequest"),
	adapter(protocol.CommandRestart, "supportsRestartRequest"),
	adapter(protocol.CommandTerminate, "supportsTerminateRequest"),
	adapter(protocol.CommandCancel, "supportsCancelRequest"),
	Entry{
		Method: protocol.CommandEvaluate, Direction: protocol.ClientToServer,
		Key: "supportsEvaluateForHovers", Prerequisite: "supportsVariableType",
	},
)

// LSPServer is the table of capabilities a language server advertises.
func LSPServer() *Table {
	return lspServerTable
}

// LSPClient is the table of capabilities a language client advertises.
func LSPClient() *Table {
	return lspClientTable
}

// DebugAdapter is the table of capabilities a debug adapter advertises.
func DebugAdapter() *Table {
	return dapTable
}
