package protocol

// Lifecycle and general methods
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized"
	MethodShutdown      = "shutdown"
	MethodExit          = "exit"
	MethodCancelRequest = "$/cancelRequest"
	MethodProgress      = "$/progress"
	MethodSetTrace      = "$/setTrace"
	MethodLogTrace      = "$/logTrace"
)

// Text document synchronization
const (
	MethodDidOpen           = "textDocument/didOpen"
	MethodDidChange         = "textDocument/didChange"
	MethodWillSave          = "textDocument/willSave"
	MethodWillSaveWaitUntil = "textDocument/willSaveWaitUntil"
	MethodDidSave           = "textDocument/didSave"
	MethodDidClose          = "textDocument/didClose"
)

// Language features
const (
	MethodCompletion          = "textDocument/completion"
	MethodCompletionResolve   = "completionItem/resolve"
	MethodHover               = "textDocument/hover"
	MethodSignatureHelp       = "textDocument/signatureHelp"
	MethodDeclaration         = "textDocument/declaration"
	MethodDefinition          = "textDocument/definition"
	MethodTypeDefinition      = "textDocument/typeDefinition"
	MethodImplementation      = "textDocument/implementation"
	MethodReferences          = "textDocument/references"
	MethodDocumentHighlight   = "textDocument/documentHighlight"
	MethodDocumentSymbol      = "textDocument/documentSymbol"
	MethodCodeAction          = "textDocument/codeAction"
	MethodCodeActionResolve   = "codeAction/resolve"
	MethodCodeLens            = "textDocument/codeLens"
	MethodCodeLensResolve     = "codeLens/resolve"
	MethodDocumentLink        = "textDocument/documentLink"
	MethodDocumentLinkResolve = "documentLink/resolve"
	MethodDocumentColor       = "textDocument/documentColor"
	MethodColorPresentation   = "textDocument/colorPresentation"
	MethodFormatting          = "textDocument/formatting"
	MethodRangeFormatting     = "textDocument/rangeFormatting"
	MethodOnTypeFormatting    = "textDocument/onTypeFormatting"
	MethodRename              = "textDocument/rename"
	MethodPrepareRename       = "textDocument/prepareRename"
	MethodFoldingRange        = "textDocument/foldingRange"
	MethodSelectionRange      = "textDocument/selectionRange"
	MethodSemanticTokensFull  = "textDocument/semanticTokens/full"
	MethodSemanticTokensRange = "textDocument/semanticTokens/range"
	MethodInlayHint           = "textDocument/inlayHint"
	MethodInlayHintResolve    = "inlayHint/resolve"
)

// Workspace features
const (
	MethodWorkspaceSymbol           = "workspace/symbol"
	MethodExecuteCommand            = "workspace/executeCommand"
	MethodDidChangeConfiguration    = "workspace/didChangeConfiguration"
	MethodDidChangeWatchedFiles     = "workspace/didChangeWatchedFiles"
	MethodDidChangeWorkspaceFolders = "workspace/didChangeWorkspaceFolders"
	MethodWorkspaceApplyEdit        = "workspace/applyEdit"
	MethodWorkspaceConfiguration    = "workspace/configuration"
	MethodWorkspaceFolders          = "workspace/workspaceFolders"
	MethodCodeLensRefresh           = "workspace/codeLens/refresh"
	MethodSemanticTokensRefresh     = "workspace/semanticTokens/refresh"
	MethodWorkDoneProgressCancel    = "window/workDoneProgress/cancel"
	MethodWorkDoneProgressCreate    = "window/workDoneProgress/create"
	MethodShowMessage               = "window/showMessage"
	MethodShowMessageRequest        = "window/showMessageRequest"
	MethodLogMessage                = "window/logMessage"
	MethodPublishDiagnostics        = "textDocument/publishDiagnostics"
	MethodRegisterCapability        = "client/registerCapability"
	MethodUnregisterCapability      = "client/unregisterCapability"
	MethodTelemetryEvent            = "telemetry/event"
)

func request(name string, dir Direction) MethodInfo {
	return MethodInfo{Name: name, Direction: dir, Kind: KindRequest}
}

func notification(name string, dir Direction) MethodInfo {
	return MethodInfo{Name: name, Direction: dir, Kind: KindNotification}
}

// provider is a Parallel, list-returning request that may stream partial results.
func provider(name string) MethodInfo {
	return MethodInfo{Name: name, Direction: ClientToServer, Kind: KindRequest, Mode: Parallel, PartialResults: true}
}

func resolvable(name, resolve string) MethodInfo {
	m := provider(name)
	m.ResolveMethod = resolve
	return m
}

func ordered(name string) MethodInfo {
	m := notification(name, ClientToServer)
	m.Ordered = true
	return m
}

func superseding(m MethodInfo) MethodInfo {
	m.Supersede = true
	return m
}

var lspSchema = NewSchema("lsp",
	request(MethodInitialize, ClientToServer),
	notification(MethodInitialized, ClientToServer),
	request(MethodShutdown, ClientToServer),
	notification(MethodExit, ClientToServer),
	notification(MethodCancelRequest, Bidirectional),
	notification(MethodProgress, Bidirectional),
	notification(MethodSetTrace, ClientToServer),
	notification(MethodLogTrace, ServerToClient),

	ordered(MethodDidOpen),
	ordered(MethodDidChange),
	ordered(MethodWillSave),
	request(MethodWillSaveWaitUntil, ClientToServer),
	ordered(MethodDidSave),
	ordered(MethodDidClose),

	resolvable(MethodCompletion, MethodCompletionResolve),
	request(MethodCompletionResolve, ClientToServer),
	request(MethodHover, ClientToServer),
	request(MethodSignatureHelp, ClientToServer),
	provider(MethodDeclaration),
	provider(MethodDefinition),
	provider(MethodTypeDefinition),
	provider(MethodImplementation),
	provider(MethodReferences),
	provider(MethodDocumentHighlight),
	superseding(provider(MethodDocumentSymbol)),
	resolvable(MethodCodeAction, MethodCodeActionResolve),
	request(MethodCodeActionResolve, ClientToServer),
	resolvable(MethodCodeLens, MethodCodeLensResolve),
	request(MethodCodeLensResolve, ClientToServer),
	resolvable(MethodDocumentLink, MethodDocumentLinkResolve),
	request(MethodDocumentLinkResolve, ClientToServer),
	provider(MethodDocumentColor),
	provider(MethodColorPresentation),
	request(MethodFormatting, ClientToServer),
	request(MethodRangeFormatting, ClientToServer),
	request(MethodOnTypeFormatting, ClientToServer),
	request(MethodRename, ClientToServer),
	request(MethodPrepareRename, ClientToServer),
	provider(MethodFoldingRange),
	provider(MethodSelectionRange),
	superseding(request(MethodSemanticTokensFull, ClientToServer)),
	superseding(request(MethodSemanticTokensRange, ClientToServer)),
	resolvable(MethodInlayHint, MethodInlayHintResolve),
	request(MethodInlayHintResolve, ClientToServer),

	provider(MethodWorkspaceSymbol),
	request(MethodExecuteCommand, ClientToServer),
	notification(MethodDidChangeConfiguration, ClientToServer),
	notification(MethodDidChangeWatchedFiles, ClientToServer),
	notification(MethodDidChangeWorkspaceFolders, ClientToServer),
	notification(MethodWorkDoneProgressCancel, ClientToServer),

	request(MethodWorkspaceApplyEdit, ServerToClient),
	request(MethodWorkspaceConfiguration, ServerToClient),
	request(MethodWorkspaceFolders, ServerToClient),
	request(MethodCodeLensRefresh, ServerToClient),
	request(MethodSemanticTokensRefresh, ServerToClient),
	request(MethodWorkDoneProgressCreate, ServerToClient),
	notification(MethodShowMessage, ServerToClient),
	request(MethodShowMessageRequest, ServerToClient),
	notification(MethodLogMessage, ServerToClient),
	notification(MethodPublishDiagnostics, ServerToClient),
	request(MethodRegisterCapability, ServerToClient),
	request(MethodUnregisterCapability, ServerToClient),
	notification(MethodTelemetryEvent, ServerToClient),
)

// LSP returns the language server protocol schema.
func LSP() *Schema {
	return lspSchema
}
