package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents a JSON-RPC 2.0 error code as it appears on the wire
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Language server protocol error codes
const (
	// ServerNotInitialized is returned for requests received before initialize
	ServerNotInitialized ErrorCode = -32002
	// UnknownErrorCode is reserved by LSP for unclassified failures
	UnknownErrorCode ErrorCode = -32001
	// RequestCancelled is returned when the peer cancelled the request
	RequestCancelled ErrorCode = -32800
	// ContentModified is returned when a newer request of the same kind superseded this one
	ContentModified ErrorCode = -32801
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response. A nil result
// is encoded as JSON null, which LSP uses for "no result".
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	resultJSON := json.RawMessage("null")
	if result != nil {
		b, err := wire.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = b
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) *Response {
	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface so wire errors can be returned from calls.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := wire.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return b, nil
}

// envelope is the union of every field a JSON-RPC message may carry.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// ParseMessage decodes a single framed message into a *Request, *Notification
// or *Response. Malformed input yields a *ParseFailure describing which wire
// code applies.
func ParseMessage(data []byte) (interface{}, error) {
	var env envelope
	if err := wire.Unmarshal(data, &env); err != nil {
		return nil, &ParseFailure{Code: ParseError, Reason: "invalid JSON"}
	}
	if env.JSONRPC != JSONRPCVersion {
		return nil, &ParseFailure{Code: InvalidRequest, Reason: "unsupported jsonrpc version", ID: env.ID}
	}

	switch {
	case env.Method != "" && env.ID != nil:
		return &Request{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: env.JSONRPC},
			ID:             env.ID,
			Method:         env.Method,
			Params:         env.Params,
		}, nil
	case env.Method != "":
		return &Notification{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: env.JSONRPC},
			Method:         env.Method,
			Params:         env.Params,
		}, nil
	case env.ID != nil && (env.Error != nil || gjson.GetBytes(data, "result").Exists()):
		if env.Error == nil && env.Result == nil {
			env.Result = json.RawMessage("null")
		}
		return &Response{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: env.JSONRPC},
			ID:             env.ID,
			Result:         env.Result,
			Error:          env.Error,
		}, nil
	default:
		return nil, &ParseFailure{Code: InvalidRequest, Reason: "message is neither request, notification nor response", ID: env.ID}
	}
}

// ParseFailure reports an envelope that could not be classified.
type ParseFailure struct {
	Code   ErrorCode
	Reason string
	ID     interface{}
}

func (f *ParseFailure) Error() string {
	return f.Reason
}

// IsRequest checks if a raw JSON message is a JSON-RPC 2.0 request
func IsRequest(data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		return false
	}
	_, ok := msg.(*Request)
	return ok
}

// IsResponse checks if a raw JSON message is a JSON-RPC 2.0 response
func IsResponse(data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		return false
	}
	_, ok := msg.(*Response)
	return ok
}

// IsNotification checks if a raw JSON message is a JSON-RPC 2.0 notification
func IsNotification(data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		return false
	}
	_, ok := msg.(*Notification)
	return ok
}

// IDKey normalizes a request id into a map key. Numeric ids that went
// through JSON decoding (float64) and integer ids produce the same key;
// string ids are quoted so "1" and 1 never collide.
func IDKey(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return strconv.Quote(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
