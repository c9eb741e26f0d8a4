package errors

import "github.com/ajitpratap0/langrpc-go/pkg/protocol"

// JSON-RPC 2.0 Standard Error Codes
const (
	// ParseError indicates invalid JSON was received
	CodeParseError int = int(protocol.ParseError)

	// InvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = int(protocol.InvalidRequest)

	// MethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = int(protocol.MethodNotFound)

	// InvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = int(protocol.InvalidParams)

	// InternalError indicates internal JSON-RPC error
	CodeInternalError int = int(protocol.InternalError)
)

// Language server protocol codes
const (
	CodeServerNotInitialized int = int(protocol.ServerNotInitialized)
	CodeUnknownError         int = int(protocol.UnknownErrorCode)
	CodeRequestCancelled     int = int(protocol.RequestCancelled)
	CodeContentModified      int = int(protocol.ContentModified)
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

// errorCodeRegistry maps wire codes to their information
var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryNotFound, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	CodeServerNotInitialized: {CodeServerNotInitialized, "ServerNotInitialized", "Server not initialized", CategoryProtocol, SeverityWarning},
	CodeUnknownError:         {CodeUnknownError, "UnknownErrorCode", "Unknown error", CategoryInternal, SeverityError},
	CodeRequestCancelled:     {CodeRequestCancelled, "RequestCancelled", "Request cancelled", CategoryCancelled, SeverityInfo},
	CodeContentModified:      {CodeContentModified, "ContentModified", "Content modified", CategoryCancelled, SeverityInfo},
}

// kindRegistry maps every taxonomy kind to its wire code. Internal-only
// kinds reuse InternalError or InvalidParams.
var kindRegistry = map[Kind]ErrorCodeInfo{
	KindInternal:           {CodeInternalError, "Internal", "Internal error", CategoryInternal, SeverityError},
	KindProtocol:           {CodeInvalidRequest, "Protocol", "Malformed envelope", CategoryProtocol, SeverityError},
	KindMethodNotFound:     {CodeMethodNotFound, "MethodNotFound", "No handler for method", CategoryNotFound, SeverityError},
	KindInvalidParams:      {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	KindHandlerFault:       {CodeInternalError, "HandlerFault", "Handler failed", CategoryHandler, SeverityError},
	KindAmbiguousHandler:   {CodeInternalError, "AmbiguousHandler", "More than one handler applies", CategoryRouting, SeverityError},
	KindResolveRouting:     {CodeInvalidParams, "ResolveRouting", "Resolve item could not be routed", CategoryRouting, SeverityError},
	KindCapabilityMismatch: {CodeInternalError, "CapabilityMismatch", "Handler beyond peer capability", CategoryCapability, SeverityWarning},
	KindCancelled:          {CodeRequestCancelled, "Cancelled", "Request cancelled", CategoryCancelled, SeverityInfo},
	KindContentModified:    {CodeContentModified, "ContentModified", "Content modified", CategoryCancelled, SeverityInfo},
	KindConfiguration:      {CodeInternalError, "Configuration", "Invalid registration", CategoryConfig, SeverityCritical},
	KindNotInitialized:     {CodeServerNotInitialized, "NotInitialized", "Server not initialized", CategoryProtocol, SeverityWarning},
	KindDecode:             {CodeInvalidParams, "Decode", "Value has an unexpected shape", CategoryValidation, SeverityError},
	KindTransport:          {CodeInternalError, "Transport", "Transport failure", CategoryTransport, SeverityError},
}

func kindInfo(kind Kind) ErrorCodeInfo {
	if info, ok := kindRegistry[kind]; ok {
		return info
	}
	return kindRegistry[KindInternal]
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryInternal
}

// KindForCode maps a wire code received from the peer back onto a kind.
func KindForCode(code int) Kind {
	switch code {
	case CodeParseError, CodeInvalidRequest:
		return KindProtocol
	case CodeMethodNotFound:
		return KindMethodNotFound
	case CodeInvalidParams:
		return KindInvalidParams
	case CodeRequestCancelled:
		return KindCancelled
	case CodeContentModified:
		return KindContentModified
	case CodeServerNotInitialized:
		return KindNotInitialized
	default:
		return KindInternal
	}
}

// IsStandardJSONRPCCode checks if a code is in the JSON-RPC reserved range
func IsStandardJSONRPCCode(code int) bool {
	return code >= -32768 && code <= -32000
}

// IsLSPReservedCode checks if a code is in the range LSP reserves for
// its own errors, such as RequestCancelled and ContentModified.
func IsLSPReservedCode(code int) bool {
	return code >= -32899 && code <= -32800
}
