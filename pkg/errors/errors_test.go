package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

func TestRPCErrorInterface(t *testing.T) {
	tests := []struct {
		name     string
		err      RPCError
		wantKind Kind
		wantCode int
		wantCat  Category
		wantSev  Severity
	}{
		{
			name:     "method not found",
			err:      MethodNotFound("textDocument/hover"),
			wantKind: KindMethodNotFound,
			wantCode: CodeMethodNotFound,
			wantCat:  CategoryNotFound,
			wantSev:  SeverityError,
		},
		{
			name:     "ambiguous handler",
			err:      AmbiguousHandler("textDocument/hover", []string{"a", "b"}),
			wantKind: KindAmbiguousHandler,
			wantCode: CodeInternalError,
			wantCat:  CategoryRouting,
			wantSev:  SeverityError,
		},
		{
			name:     "resolve routing",
			err:      ResolveRouting("codeLens/resolve", "no handler accepts the item"),
			wantKind: KindResolveRouting,
			wantCode: CodeInvalidParams,
			wantCat:  CategoryRouting,
			wantSev:  SeverityError,
		},
		{
			name:     "cancelled",
			err:      Cancelled("textDocument/completion"),
			wantKind: KindCancelled,
			wantCode: CodeRequestCancelled,
			wantCat:  CategoryCancelled,
			wantSev:  SeverityInfo,
		},
		{
			name:     "content modified",
			err:      ContentModified("textDocument/documentSymbol"),
			wantKind: KindContentModified,
			wantCode: CodeContentModified,
			wantCat:  CategoryCancelled,
			wantSev:  SeverityInfo,
		},
		{
			name:     "not initialized",
			err:      NotInitialized("textDocument/hover"),
			wantKind: KindNotInitialized,
			wantCode: CodeServerNotInitialized,
			wantCat:  CategoryProtocol,
			wantSev:  SeverityWarning,
		},
		{
			name:     "configuration",
			err:      ConfigurationError("unknown method %q", "foo/bar"),
			wantKind: KindConfiguration,
			wantCode: CodeInternalError,
			wantCat:  CategoryConfig,
			wantSev:  SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got, tt.wantKind)
			}
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if got := tt.err.Severity(); got != tt.wantSev {
				t.Errorf("Severity() = %v, want %v", got, tt.wantSev)
			}
			if msg := tt.err.Error(); msg == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestErrorContext(t *testing.T) {
	err := NewError(KindInternal, "test error")

	if ctx := err.Context(); ctx == nil {
		t.Error("Context() should never return nil")
	}

	requestCtx := &Context{
		RequestID: "123",
		Method:    "textDocument/hover",
		Document:  "file:///a.go",
		Component: "dispatcher",
	}

	errWithCtx := err.WithContext(requestCtx)
	if got := errWithCtx.Context(); got != requestCtx {
		t.Errorf("WithContext() failed, got %v, want %v", got, requestCtx)
	}

	if err.Context().RequestID != "" {
		t.Error("Original error was modified by WithContext()")
	}
}

func TestErrorChaining(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := WrapError(cause, KindInternal, "wrapped error")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestSentinels(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", Cancelled("textDocument/hover"))
	if !stderrors.Is(wrapped, ErrCancelled) {
		t.Error("errors.Is(wrapped, ErrCancelled) = false, want true")
	}
	if stderrors.Is(wrapped, ErrContentModified) {
		t.Error("a cancelled error must not match ErrContentModified")
	}
}

func TestMessagesDoNotLeakDescriptorIDs(t *testing.T) {
	ids := []string{"9b2f6c1e-0000-4000-8000-000000000001", "9b2f6c1e-0000-4000-8000-000000000002"}
	err := AmbiguousHandler("textDocument/hover", ids)

	wire := ToWire(err)
	for _, id := range ids {
		if strings.Contains(wire.Message, id) {
			t.Errorf("wire message %q leaks descriptor id %s", wire.Message, id)
		}
	}
	if wire.Data != nil {
		t.Errorf("wire data = %v, want nil", wire.Data)
	}

	data, ok := err.Data().(*DispatchErrorData)
	if !ok {
		t.Fatalf("Data() = %T, want *DispatchErrorData", err.Data())
	}
	if len(data.Handlers) != 2 {
		t.Errorf("Handlers = %v, want both ids", data.Handlers)
	}
}

func TestHandlerFaultKeepsHandlerMessage(t *testing.T) {
	err := HandlerFault("textDocument/hover", fmt.Errorf("index not ready"))

	wire := ToWire(err)
	if wire.Code != protocol.InternalError {
		t.Errorf("Code = %v, want %v", wire.Code, protocol.InternalError)
	}
	if wire.Message != "index not ready" {
		t.Errorf("Message = %q, want %q", wire.Message, "index not ready")
	}
}

func TestHandlerPanicHidesPanicValue(t *testing.T) {
	err := HandlerPanic("textDocument/hover", "interface conversion: interface {} is *main.T")

	wire := ToWire(err)
	if wire.Code != protocol.InternalError || wire.Message != "handler panicked" {
		t.Errorf("ToWire = %+v", wire)
	}
	if !IsKind(err, KindHandlerFault) {
		t.Error("a panic should be a handler fault")
	}
	if strings.Contains(err.Error(), "main.T") {
		t.Errorf("Error() leaks the panic value: %q", err.Error())
	}
	if cause := stderrors.Unwrap(err); cause == nil || !strings.Contains(cause.Error(), "main.T") {
		t.Errorf("cause should keep the panic value, got %v", cause)
	}
}

func TestAllHandlersFaulted(t *testing.T) {
	err := AllHandlersFaulted("textDocument/codeLens", []error{
		fmt.Errorf("first"),
		fmt.Errorf("second"),
	})

	if err.Kind() != KindHandlerFault {
		t.Errorf("Kind() = %v, want %v", err.Kind(), KindHandlerFault)
	}
	if !strings.Contains(err.Message(), "first") || !strings.Contains(err.Message(), "second") {
		t.Errorf("Message() = %q, want both faults", err.Message())
	}
	data := err.Data().(*DispatchErrorData)
	if data.Faulted != 2 {
		t.Errorf("Faulted = %d, want 2", data.Faulted)
	}
}

func TestDecodeErrorHidesParserError(t *testing.T) {
	var v struct{ A int }
	cause := json.Unmarshal([]byte(`{"A":"x"}`), &v)
	err := DecodeError("Location", cause)

	if err.Code() != CodeInvalidParams {
		t.Errorf("Code() = %v, want %v", err.Code(), CodeInvalidParams)
	}
	if err.Message() != "malformed Location" {
		t.Errorf("Message() = %q", err.Message())
	}
	if !stderrors.Is(err, cause) {
		t.Error("parser error should stay in the chain")
	}
}

func TestErrorConversion(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		wantKind Kind
		wantCode int
	}{
		{
			name:     "context canceled",
			input:    context.Canceled,
			wantKind: KindCancelled,
			wantCode: CodeRequestCancelled,
		},
		{
			name:     "deadline exceeded",
			input:    context.DeadlineExceeded,
			wantKind: KindCancelled,
			wantCode: CodeRequestCancelled,
		},
		{
			name:     "json syntax error",
			input:    &json.SyntaxError{},
			wantKind: KindProtocol,
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "json type error",
			input:    &json.UnmarshalTypeError{},
			wantKind: KindInvalidParams,
			wantCode: CodeInvalidParams,
		},
		{
			name:     "wire error",
			input:    &protocol.Error{Code: protocol.ContentModified, Message: "stale"},
			wantKind: KindContentModified,
			wantCode: CodeContentModified,
		},
		{
			name:     "generic error",
			input:    fmt.Errorf("boom"),
			wantKind: KindInternal,
			wantCode: CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Convert(tt.input)
			if got.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got.Kind(), tt.wantKind)
			}
			if got.Code() != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got.Code(), tt.wantCode)
			}
		})
	}

	if Convert(nil) != nil {
		t.Error("Convert(nil) should return nil")
	}
}

func TestFromContext(t *testing.T) {
	t.Run("live context", func(t *testing.T) {
		if err := FromContext(context.Background(), "m"); err != nil {
			t.Errorf("FromContext() = %v, want nil", err)
		}
	})

	t.Run("plain cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := FromContext(ctx, "m"); !IsKind(err, KindCancelled) {
			t.Errorf("FromContext() = %v, want Cancelled", err)
		}
	})

	t.Run("superseded", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(ErrContentModified)
		if err := FromContext(ctx, "m"); !IsKind(err, KindContentModified) {
			t.Errorf("FromContext() = %v, want ContentModified", err)
		}
	})
}

func TestToResponse(t *testing.T) {
	resp := ToResponse(MethodNotFound("foo/bar"), float64(7))
	if resp.ID != float64(7) {
		t.Errorf("ID = %v, want 7", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != protocol.MethodNotFound {
		t.Fatalf("Error = %+v, want MethodNotFound", resp.Error)
	}
	if resp.Result != nil {
		t.Errorf("Result = %s, want empty", resp.Result)
	}
}

func TestFromWire(t *testing.T) {
	err := FromWire(&protocol.Error{Code: protocol.RequestCancelled, Message: "cancelled by client"})
	if err.Kind() != KindCancelled {
		t.Errorf("Kind() = %v, want %v", err.Kind(), KindCancelled)
	}
	if err.Code() != CodeRequestCancelled {
		t.Errorf("Code() = %v, want %v", err.Code(), CodeRequestCancelled)
	}

	custom := FromWire(&protocol.Error{Code: -31000, Message: "custom"})
	if custom.Code() != -31000 {
		t.Errorf("Code() = %v, want the peer's code", custom.Code())
	}
}

func TestErrorRegistry(t *testing.T) {
	for _, code := range []int{
		CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams,
		CodeInternalError, CodeServerNotInitialized, CodeRequestCancelled, CodeContentModified,
	} {
		info, ok := GetErrorCodeInfo(code)
		if !ok {
			t.Errorf("code %d missing from registry", code)
			continue
		}
		if info.Name == "" || info.Description == "" {
			t.Errorf("code %d has empty name or description", code)
		}
		if !IsStandardJSONRPCCode(code) && !IsLSPReservedCode(code) {
			t.Errorf("code %d is outside the reserved ranges", code)
		}
	}

	if IsStandardJSONRPCCode(CodeRequestCancelled) || IsStandardJSONRPCCode(CodeContentModified) {
		t.Error("LSP cancellation codes are not JSON-RPC codes")
	}
	if !IsLSPReservedCode(CodeRequestCancelled) || !IsLSPReservedCode(CodeContentModified) {
		t.Error("LSP cancellation codes should be LSP reserved")
	}
	if IsLSPReservedCode(CodeMethodNotFound) {
		t.Error("MethodNotFound is not LSP reserved")
	}

	if GetErrorCodeName(-1) != "UnknownError" {
		t.Error("unknown codes should be named UnknownError")
	}

	for kind := KindInternal; kind <= KindTransport; kind++ {
		if _, ok := kindRegistry[kind]; !ok {
			t.Errorf("kind %v has no registry entry", kind)
		}
	}
}

func TestParseError(t *testing.T) {
	err := ParseError("unexpected end of input")
	if err.Code() != CodeParseError {
		t.Errorf("Code() = %v, want %v", err.Code(), CodeParseError)
	}
	if err.Details() != "unexpected end of input" {
		t.Errorf("Details() = %q", err.Details())
	}
}

func TestErrorDetails(t *testing.T) {
	err := NewError(KindInternal, "base error").
		WithDetail("first detail").
		WithDetail("second detail")

	details := err.Details()
	expected := "first detail; second detail"
	if details != expected {
		t.Errorf("Details() = %v, want %v", details, expected)
	}
}

func BenchmarkErrorConversion(b *testing.B) {
	err := MethodNotFound("textDocument/hover")

	b.Run("ToWire", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = ToWire(err)
		}
	})

	b.Run("ToJSON", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = err.ToJSON()
		}
	})
}
