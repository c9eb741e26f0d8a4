package errors

import (
	"fmt"
	"strings"
)

// DispatchErrorData is attached to dispatch errors for logs. It is never
// sent to the peer.
type DispatchErrorData struct {
	Method   string   `json:"method"`
	Handlers []string `json:"handlers,omitempty"`
	Faulted  int      `json:"faulted,omitempty"`
	Total    int      `json:"total,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// CapabilityErrorData contains structured data for capability-related errors
type CapabilityErrorData struct {
	Method       string `json:"method"`
	Capability   string `json:"capability"`
	Prerequisite string `json:"prerequisite,omitempty"`
}

// Sentinels for errors.Is comparisons.
var (
	ErrCancelled       = NewError(KindCancelled, "request cancelled")
	ErrContentModified = NewError(KindContentModified, "content modified")
)

// ProtocolError reports a malformed envelope
func ProtocolError(reason string) RPCError {
	return NewErrorf(KindProtocol, "invalid request: %s", reason)
}

// ParseError reports undecodable JSON
func ParseError(reason string) RPCError {
	e := NewError(KindProtocol, "parse error").(*baseError)
	e.code = CodeParseError
	return e.WithDetail(reason)
}

// MethodNotFound reports a method with no schema entry or no matching handler
func MethodNotFound(method string) RPCError {
	return NewErrorf(KindMethodNotFound, "method not found: %s", method).
		WithContext(&Context{Method: method})
}

// InvalidParams reports params that could not be decoded or validated
func InvalidParams(method, reason string) RPCError {
	return NewErrorf(KindInvalidParams, "invalid params for %s: %s", method, reason).
		WithContext(&Context{Method: method})
}

// HandlerFault wraps an error or panic raised inside a handler. The
// handler's own message is kept since it is user content.
func HandlerFault(method string, cause error) RPCError {
	msg := "request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return WrapError(cause, KindHandlerFault, msg).
		WithContext(&Context{Method: method, Component: "dispatcher"})
}

// HandlerPanic reports a panic recovered from a handler. The panic value can
// name Go types, so it is kept as the cause and never reaches the message.
func HandlerPanic(method string, recovered interface{}) RPCError {
	return WrapError(fmt.Errorf("panic: %v", recovered), KindHandlerFault, "handler panicked").
		WithContext(&Context{Method: method, Component: "dispatcher"})
}

// AllHandlersFaulted combines the faults of a parallel dispatch in which no
// handler succeeded.
func AllHandlersFaulted(method string, faults []error) RPCError {
	messages := make([]string, 0, len(faults))
	for _, f := range faults {
		if f != nil {
			messages = append(messages, f.Error())
		}
	}
	var cause error
	if len(faults) > 0 {
		cause = faults[0]
	}
	return WrapErrorf(cause, KindHandlerFault, "all %d handlers for %s failed: %s", len(faults), method, strings.Join(messages, "; ")).
		WithData(&DispatchErrorData{Method: method, Faulted: len(faults), Total: len(faults)})
}

// AmbiguousHandler reports that a serial method has more than one equally
// specific handler. Descriptor ids only go to Data, never to the message.
func AmbiguousHandler(method string, ids []string) RPCError {
	return NewErrorf(KindAmbiguousHandler, "%d handlers are equally applicable to %s", len(ids), method).
		WithData(&DispatchErrorData{Method: method, Handlers: ids})
}

// ResolveRouting reports a resolve item matching zero or several handlers
func ResolveRouting(method, reason string) RPCError {
	return NewErrorf(KindResolveRouting, "cannot resolve item for %s: %s", method, reason).
		WithData(&DispatchErrorData{Method: method, Reason: reason})
}

// CapabilityMismatch reports a handler registered for a feature the peer
// did not declare. It is logged, not sent.
func CapabilityMismatch(method, capability, prerequisite string) RPCError {
	return NewErrorf(KindCapabilityMismatch, "handler for %s requires peer capability %s", method, prerequisite).
		WithData(&CapabilityErrorData{Method: method, Capability: capability, Prerequisite: prerequisite})
}

// Cancelled reports a request cancelled by the peer or the caller
func Cancelled(method string) RPCError {
	return NewError(KindCancelled, "request cancelled").
		WithContext(&Context{Method: method})
}

// ContentModified reports a request superseded by a newer one
func ContentModified(method string) RPCError {
	return NewError(KindContentModified, "content modified").
		WithContext(&Context{Method: method})
}

// ConfigurationError reports an invalid registration
func ConfigurationError(format string, args ...interface{}) RPCError {
	return NewErrorf(KindConfiguration, format, args...)
}

// NotInitialized reports a request received before the session was initialized
func NotInitialized(method string) RPCError {
	return NewErrorf(KindNotInitialized, "server not initialized, cannot handle %s", method)
}

// DecodeError wraps a codec failure. The parser error stays in the chain
// for logs; the message only names the value kind.
func DecodeError(typeName string, cause error) RPCError {
	return WrapErrorf(cause, KindDecode, "malformed %s", typeName)
}

// TransportError wraps a failure to read or write a message
func TransportError(operation string, cause error) RPCError {
	return WrapErrorf(cause, KindTransport, "transport %s failed", operation).
		WithDetail(fmt.Sprint(cause))
}
