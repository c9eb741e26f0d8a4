// Package logging provides structured logging for the protocol runtime.
// Loggers are backed by zerolog and write JSON by default or a human
// readable console format.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	// DebugLevel is for detailed information useful for debugging
	DebugLevel Level = iota - 1
	// InfoLevel is for general informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
	// FatalLevel is for fatal errors that will terminate the program
	FatalLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	switch lvl {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return DebugLevel, nil
	case zerolog.WarnLevel:
		return WarnLevel, nil
	case zerolog.ErrorLevel:
		return ErrorLevel, nil
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return FatalLevel, nil
	default:
		return InfoLevel, nil
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for structured logging
type Logger interface {
	// Debug logs a debug message with fields
	Debug(msg string, fields ...Field)
	// Info logs an info message with fields
	Info(msg string, fields ...Field)
	// Warn logs a warning message with fields
	Warn(msg string, fields ...Field)
	// Error logs an error message with fields
	Error(msg string, fields ...Field)
	// Fatal logs a fatal message with fields and exits
	Fatal(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithContext returns a new logger with context fields
	WithContext(ctx context.Context) Logger
	// WithError returns a new logger with error context
	WithError(err error) Logger

	// SetLevel sets the minimum log level
	SetLevel(level Level)
	// GetLevel returns the current log level
	GetLevel() Level
}

// zeroLogger implements Logger on top of a zerolog.Logger. The level is
// shared between a logger and every child derived from it.
type zeroLogger struct {
	zl    zerolog.Logger
	level *atomic.Int32
}

// New creates a structured logger writing to output in the given format.
func New(output io.Writer, format Format) Logger {
	if output == nil {
		output = os.Stdout
	}
	level := &atomic.Int32{}
	level.Store(int32(InfoLevel))
	return &zeroLogger{
		zl:    zerolog.New(format.writer(output)).With().Timestamp().Logger(),
		level: level,
	}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	level := &atomic.Int32{}
	level.Store(int32(FatalLevel))
	return &zeroLogger{zl: zerolog.Nop(), level: level}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) Logger {
	level := &atomic.Int32{}
	level.Store(int32(InfoLevel))
	return &zeroLogger{zl: zl, level: level}
}

func (l *zeroLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields)
}

func (l *zeroLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields)
}

func (l *zeroLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields)
}

func (l *zeroLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *zeroLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

// WithFields returns a new logger with additional fields
func (l *zeroLogger) WithFields(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = appendField(ctx, f)
	}
	return &zeroLogger{zl: ctx.Logger(), level: l.level}
}

// WithContext returns a new logger with the request id and method carried by ctx
func (l *zeroLogger) WithContext(ctx context.Context) Logger {
	fields := []Field{}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, String("request_id", requestID))
	}
	if method := MethodFromContext(ctx); method != "" {
		fields = append(fields, String("method", method))
	}

	return l.WithFields(fields...)
}

// WithError returns a new logger with error context
func (l *zeroLogger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	if rpcErr, ok := rpcerrors.AsRPCError(err); ok {
		fields = append(fields,
			Int("error_code", rpcErr.Code()),
			String("error_kind", rpcErr.Kind().String()),
			String("error_category", string(rpcErr.Category())),
			String("error_severity", string(rpcErr.Severity())),
		)
		if ctx := rpcErr.Context(); ctx != nil {
			if ctx.RequestID != "" {
				fields = append(fields, String("request_id", ctx.RequestID))
			}
			if ctx.Method != "" {
				fields = append(fields, String("method", ctx.Method))
			}
			if ctx.Component != "" {
				fields = append(fields, String("component", ctx.Component))
			}
		}
		if data := rpcErr.Data(); data != nil {
			fields = append(fields, Any("error_data", data))
		}
	}

	return l.WithFields(fields...)
}

// SetLevel sets the minimum log level
func (l *zeroLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *zeroLogger) GetLevel() Level {
	return Level(l.level.Load())
}

func (l *zeroLogger) log(level Level, msg string, fields []Field) {
	if level < l.GetLevel() {
		return
	}
	// Fatal goes through WithLevel so zerolog does not exit on our behalf
	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	for _, f := range fields {
		ev = appendEventField(ev, f)
	}
	ev.Msg(msg)
}

func appendField(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case error:
		return ctx.AnErr(f.Key, v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

func appendEventField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case time.Time:
		return ev.Time(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	methodKey    contextKey = "method"
)

// ContextWithRequestID returns a context with a request ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from a context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// ContextWithMethod returns a context carrying the method being dispatched
func ContextWithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey, method)
}

// MethodFromContext extracts the method from a context
func MethodFromContext(ctx context.Context) string {
	if method, ok := ctx.Value(methodKey).(string); ok {
		return method
	}
	return ""
}
