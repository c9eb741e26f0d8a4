package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// ToWire converts any error to a JSON-RPC error object. Only the code and
// the human-readable message cross the wire; kinds, details, descriptor
// ids and causes stay local.
func ToWire(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	rpcErr := Convert(err)
	return &protocol.Error{
		Code:    protocol.ErrorCode(rpcErr.Code()),
		Message: rpcErr.Message(),
	}
}

// ToResponse converts any error to a JSON-RPC error response
func ToResponse(err error, requestID interface{}) *protocol.Response {
	wireErr := ToWire(err)
	if wireErr == nil {
		wireErr = &protocol.Error{Code: protocol.InternalError, Message: "internal error"}
	}
	return protocol.NewErrorResponse(requestID, wireErr.Code, wireErr.Message, nil)
}

// FromWire converts a JSON-RPC error received from the peer into an RPCError
func FromWire(wireErr *protocol.Error) RPCError {
	if wireErr == nil {
		return nil
	}

	e := NewError(KindForCode(int(wireErr.Code)), wireErr.Message).(*baseError)
	e.code = int(wireErr.Code)
	if wireErr.Data != nil {
		return e.WithData(wireErr.Data)
	}
	return e
}

// FromContext maps a finished context onto Cancelled or ContentModified,
// honouring a cancellation cause set with context.WithCancelCause.
func FromContext(ctx context.Context, method string) RPCError {
	cause := context.Cause(ctx)
	if cause == nil {
		return nil
	}
	if IsKind(cause, KindContentModified) {
		return ContentModified(method)
	}
	return Cancelled(method)
}

// WrapProtocolError adds method and request id context to an error
func WrapProtocolError(err error, method string, requestID interface{}) RPCError {
	if err == nil {
		return nil
	}

	ctx := &Context{
		Method:    method,
		RequestID: fmt.Sprintf("%v", requestID),
	}

	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr.WithContext(ctx)
	}

	return WrapErrorf(err, KindInternal, "error processing %s", method).WithContext(ctx)
}

// Convert converts common Go errors to RPCErrors
func Convert(err error) RPCError {
	if err == nil {
		return nil
	}

	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr
	}

	var wireErr *protocol.Error
	if stderrors.As(err, &wireErr) {
		return FromWire(wireErr)
	}

	if stderrors.Is(err, context.Canceled) {
		return WrapError(err, KindCancelled, "request cancelled")
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, KindCancelled, "request timed out")
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return WrapError(err, KindProtocol, "parse error")
	}

	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return WrapError(err, KindInvalidParams, "invalid parameter type")
	}

	return WrapError(err, KindInternal, "internal error")
}
