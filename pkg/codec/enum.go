package codec

import (
	"math"

	lsp "go.lsp.dev/protocol"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

// OpenEnum is a named set of string values that peers may extend. Any
// string round-trips unchanged; Known reports membership.
type OpenEnum[T ~string] struct {
	values []T
	index  map[T]struct{}
}

// NewOpenEnum builds an open enum from its named values.
func NewOpenEnum[T ~string](values ...T) OpenEnum[T] {
	index := make(map[T]struct{}, len(values))
	for _, v := range values {
		index[v] = struct{}{}
	}
	return OpenEnum[T]{values: values, index: index}
}

// Known reports whether v is one of the named values.
func (e OpenEnum[T]) Known(v T) bool {
	_, ok := e.index[v]
	return ok
}

// Values returns the named values in declaration order.
func (e OpenEnum[T]) Values() []T {
	return append([]T(nil), e.values...)
}

// Numeric is the underlying type set of protocol integer enums. go.lsp.dev
// declares them as float64.
type Numeric interface {
	~int | ~int32 | ~int64 | ~uint32 | ~float64
}

// ConstrainedEnum is a closed set of numeric values. Values outside the
// set are replaced by the first valid value.
type ConstrainedEnum[T Numeric] struct {
	valid []T
}

// NewConstrainedEnum builds a constrained enum; valid[0] is the fallback.
func NewConstrainedEnum[T Numeric](valid ...T) ConstrainedEnum[T] {
	if len(valid) == 0 {
		panic("codec: constrained enum needs at least one value")
	}
	return ConstrainedEnum[T]{valid: valid}
}

// Contains reports whether v is in the valid set.
func (e ConstrainedEnum[T]) Contains(v T) bool {
	for _, x := range e.valid {
		if x == v {
			return true
		}
	}
	return false
}

// Normalize returns v, or the fallback when v is out of range.
func (e ConstrainedEnum[T]) Normalize(v T) T {
	if e.Contains(v) {
		return v
	}
	return e.valid[0]
}

// Fallback returns the value used for out-of-range input.
func (e ConstrainedEnum[T]) Fallback() T {
	return e.valid[0]
}

func (e ConstrainedEnum[T]) decode(data []byte, typeName string) (T, error) {
	var n float64
	if err := wire.Unmarshal(data, &n); err != nil {
		return e.valid[0], rpcerrors.DecodeError(typeName, err)
	}
	// fractions and values beyond int32 are out of range like any other
	if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
		return e.valid[0], nil
	}
	return e.Normalize(T(int64(n))), nil
}

// Open enums.
var (
	CodeActionKinds = NewOpenEnum(
		lsp.QuickFix,
		lsp.Refactor,
		lsp.RefactorExtract,
		lsp.RefactorInline,
		lsp.RefactorRewrite,
		lsp.Source,
		lsp.SourceOrganizeImports,
	)
	FoldingRangeKinds = NewOpenEnum(
		lsp.CommentFoldingRange,
		lsp.ImportsFoldingRange,
		lsp.RegionFoldingRange,
	)
	MarkupKinds = NewOpenEnum(lsp.PlainText, lsp.Markdown)
)

// StoppedReason is the reason of a DAP stopped event.
type StoppedReason string

const (
	StoppedStep                  StoppedReason = "step"
	StoppedBreakpoint            StoppedReason = "breakpoint"
	StoppedException             StoppedReason = "exception"
	StoppedPause                 StoppedReason = "pause"
	StoppedEntry                 StoppedReason = "entry"
	StoppedGoto                  StoppedReason = "goto"
	StoppedFunctionBreakpoint    StoppedReason = "function breakpoint"
	StoppedDataBreakpoint        StoppedReason = "data breakpoint"
	StoppedInstructionBreakpoint StoppedReason = "instruction breakpoint"
)

// OutputCategory is the category of a DAP output event.
type OutputCategory string

const (
	OutputConsole   OutputCategory = "console"
	OutputImportant OutputCategory = "important"
	OutputStdout    OutputCategory = "stdout"
	OutputStderr    OutputCategory = "stderr"
	OutputTelemetry OutputCategory = "telemetry"
)

var (
	StoppedReasons = NewOpenEnum(
		StoppedStep, StoppedBreakpoint, StoppedException, StoppedPause, StoppedEntry,
		StoppedGoto, StoppedFunctionBreakpoint, StoppedDataBreakpoint, StoppedInstructionBreakpoint,
	)
	OutputCategories = NewOpenEnum(OutputConsole, OutputImportant, OutputStdout, OutputStderr, OutputTelemetry)
)

// Constrained enums.
var (
	SyncKinds = NewConstrainedEnum(
		lsp.TextDocumentSyncKindNone,
		lsp.TextDocumentSyncKindFull,
		lsp.TextDocumentSyncKindIncremental,
	)
	DiagnosticSeverities = NewConstrainedEnum(
		lsp.DiagnosticSeverityError,
		lsp.DiagnosticSeverityWarning,
		lsp.DiagnosticSeverityInformation,
		lsp.DiagnosticSeverityHint,
	)
	CompletionTriggerKinds = NewConstrainedEnum(
		lsp.CompletionTriggerKindInvoked,
		lsp.CompletionTriggerKindTriggerCharacter,
		lsp.CompletionTriggerKindTriggerForIncompleteCompletions,
	)
)

// SyncKind is a TextDocumentSyncKind that normalizes on decode.
type SyncKind lsp.TextDocumentSyncKind

func (k SyncKind) MarshalJSON() ([]byte, error) {
	return wire.Marshal(SyncKinds.Normalize(lsp.TextDocumentSyncKind(k)))
}

func (k *SyncKind) UnmarshalJSON(data []byte) error {
	v, err := SyncKinds.decode(data, "TextDocumentSyncKind")
	*k = SyncKind(v)
	return err
}

// Severity is a DiagnosticSeverity that normalizes on decode.
type Severity lsp.DiagnosticSeverity

func (s Severity) MarshalJSON() ([]byte, error) {
	return wire.Marshal(DiagnosticSeverities.Normalize(lsp.DiagnosticSeverity(s)))
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	v, err := DiagnosticSeverities.decode(data, "DiagnosticSeverity")
	*s = Severity(v)
	return err
}

// TriggerKind is a CompletionTriggerKind that normalizes on decode.
type TriggerKind lsp.CompletionTriggerKind

func (k TriggerKind) MarshalJSON() ([]byte, error) {
	return wire.Marshal(CompletionTriggerKinds.Normalize(lsp.CompletionTriggerKind(k)))
}

func (k *TriggerKind) UnmarshalJSON(data []byte) error {
	v, err := CompletionTriggerKinds.decode(data, "CompletionTriggerKind")
	*k = TriggerKind(v)
	return err
}
