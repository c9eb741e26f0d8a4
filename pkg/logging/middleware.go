package logging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

// HandlerFunc matches the signature of registry handler functions.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// HandlerMiddleware logs each handler invocation against a method name.
// Cancellations and content-modified outcomes are routine in editors and
// are logged at debug level only.
type HandlerMiddleware struct {
	logger Logger
	slow   time.Duration
}

// MiddlewareOption configures a HandlerMiddleware
type MiddlewareOption func(*HandlerMiddleware)

// WithSlowThreshold logs a warning for handlers that run longer than d
func WithSlowThreshold(d time.Duration) MiddlewareOption {
	return func(m *HandlerMiddleware) {
		m.slow = d
	}
}

// NewHandlerMiddleware creates a middleware writing to logger
func NewHandlerMiddleware(logger Logger, opts ...MiddlewareOption) *HandlerMiddleware {
	m := &HandlerMiddleware{logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap returns fn with logging around it. A request ID is generated when
// the context carries none, and the method is stored on the context.
func (m *HandlerMiddleware) Wrap(method string, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		if RequestIDFromContext(ctx) == "" {
			ctx = ContextWithRequestID(ctx, uuid.NewString())
		}
		if MethodFromContext(ctx) == "" {
			ctx = ContextWithMethod(ctx, method)
		}
		log := m.logger.WithContext(ctx)
		log.Debug("Handler started", Int("params_bytes", len(params)))

		start := time.Now()
		result, err := fn(ctx, params)
		elapsed := Duration("duration", time.Since(start))

		switch {
		case err == nil:
			log.Debug("Handler completed", elapsed)
		case rpcerrors.IsKind(err, rpcerrors.KindCancelled), rpcerrors.IsKind(err, rpcerrors.KindContentModified):
			log.Debug("Handler abandoned", elapsed, ErrorField(err))
		default:
			log.WithError(err).Error("Handler failed", elapsed)
		}
		if m.slow > 0 && time.Since(start) > m.slow {
			log.Warn("Handler slow", elapsed, Duration("threshold", m.slow))
		}
		return result, err
	}
}
