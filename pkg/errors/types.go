// Package errors provides structured error handling for the protocol runtime.
// Every error carries a Kind from the dispatch taxonomy and the JSON-RPC code
// it is reported with on the wire, plus rich context for logs.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryHandler    Category = "handler"
	CategoryRouting    Category = "routing"
	CategoryCapability Category = "capability"
	CategoryConfig     Category = "configuration"
	CategoryInternal   Category = "internal"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
	CategoryTransport  Category = "transport"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Kind is the dispatch error taxonomy. Kinds are internal; the wire only
// ever sees the code and message.
type Kind int

const (
	KindInternal Kind = iota
	KindProtocol
	KindMethodNotFound
	KindInvalidParams
	KindHandlerFault
	KindAmbiguousHandler
	KindResolveRouting
	KindCapabilityMismatch
	KindCancelled
	KindContentModified
	KindConfiguration
	KindNotInitialized
	KindDecode
	KindTransport
)

var kindNames = map[Kind]string{
	KindInternal:           "Internal",
	KindProtocol:           "Protocol",
	KindMethodNotFound:     "MethodNotFound",
	KindInvalidParams:      "InvalidParams",
	KindHandlerFault:       "HandlerFault",
	KindAmbiguousHandler:   "AmbiguousHandler",
	KindResolveRouting:     "ResolveRouting",
	KindCapabilityMismatch: "CapabilityMismatch",
	KindCancelled:          "Cancelled",
	KindContentModified:    "ContentModified",
	KindConfiguration:      "Configuration",
	KindNotInitialized:     "NotInitialized",
	KindDecode:             "Decode",
	KindTransport:          "Transport",
}

// String returns the kind name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Context provides additional context about where and when an error occurred
type Context struct {
	RequestID  string                 `json:"request_id,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Document   string                 `json:"document,omitempty"`
	Descriptor string                 `json:"descriptor,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Component  string                 `json:"component,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
}

// RPCError defines the interface for all runtime errors
type RPCError interface {
	error

	// Code returns the JSON-RPC error code used on the wire
	Code() int

	// Kind returns the taxonomy kind
	Kind() Kind

	// Message returns a human-readable error message, safe to send to the peer
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) RPCError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) RPCError

	// WithData returns a new error with structured data
	WithData(data interface{}) RPCError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

type baseError struct {
	code     int
	kind     Kind
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int {
	return e.code
}

func (e *baseError) Kind() Kind {
	return e.kind
}

func (e *baseError) Message() string {
	return e.message
}

func (e *baseError) Details() string {
	return e.details
}

func (e *baseError) Data() interface{} {
	return e.data
}

func (e *baseError) Category() Category {
	return e.category
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) Context() *Context {
	return e.context
}

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) RPCError {
	newErr := *e
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) RPCError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) RPCError {
	newErr := *e
	newErr.data = data
	return &newErr
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches two runtime errors of the same kind, so sentinel comparisons
// like errors.Is(err, ErrCancelled) work across wrapping.
func (e *baseError) Is(target error) bool {
	t, ok := target.(*baseError)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.code == e.code
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"kind":     e.kind.String(),
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}

	if e.data != nil {
		result["data"] = e.data
	}

	if e.context != nil {
		result["context"] = e.context
	}

	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new RPCError of the given kind. Code, category and
// severity come from the kind's registry entry.
func NewError(kind Kind, message string) RPCError {
	info := kindInfo(kind)
	return &baseError{
		code:     info.Code,
		kind:     kind,
		message:  message,
		category: info.Category,
		severity: info.Severity,
		context: &Context{
			Timestamp: time.Now(),
		},
	}
}

// NewErrorf creates a new RPCError with formatted message
func NewErrorf(kind Kind, format string, args ...interface{}) RPCError {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error as an RPCError
func WrapError(err error, kind Kind, message string) RPCError {
	e := NewError(kind, message).(*baseError)
	e.cause = err
	return e
}

// WrapErrorf wraps an existing error as an RPCError with formatted message
func WrapErrorf(err error, kind Kind, format string, args ...interface{}) RPCError {
	return WrapError(err, kind, fmt.Sprintf(format, args...))
}

// AsRPCError extracts an RPCError from err's chain
func AsRPCError(err error) (RPCError, bool) {
	if err == nil {
		return nil, false
	}

	var rpcErr RPCError
	if stderrors.As(err, &rpcErr) {
		return rpcErr, true
	}

	return nil, false
}

// IsRPCError checks if an error is an RPCError
func IsRPCError(err error) bool {
	_, ok := AsRPCError(err)
	return ok
}

// IsKind checks if an error is of a specific kind
func IsKind(err error, kind Kind) bool {
	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr.Kind() == kind
	}
	return false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr.Code() == code
	}
	return false
}
