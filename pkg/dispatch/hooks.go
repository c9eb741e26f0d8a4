package dispatch

import (
	"context"
	"time"
)

// Hooks observe dispatches. Implementations must be safe for concurrent use.
type Hooks interface {
	// DispatchStarted is called once handlers are selected. The returned
	// context is the one handlers run with.
	DispatchStarted(ctx context.Context, method string, handlers int) context.Context
	// DispatchFinished is called with the error the peer sees, if any.
	DispatchFinished(ctx context.Context, method string, err error, elapsed time.Duration)
	// HandlerFaulted is called for every handler error or panic, including
	// faults hidden by a sibling's success.
	HandlerFaulted(ctx context.Context, method string, err error)
}

type nopHooks struct{}

func (nopHooks) DispatchStarted(ctx context.Context, method string, handlers int) context.Context {
	return ctx
}

func (nopHooks) DispatchFinished(ctx context.Context, method string, err error, elapsed time.Duration) {
}

func (nopHooks) HandlerFaulted(ctx context.Context, method string, err error) {}

// MultiHooks fans every callback out to hs in order.
func MultiHooks(hs ...Hooks) Hooks {
	return multiHooks(hs)
}

type multiHooks []Hooks

func (m multiHooks) DispatchStarted(ctx context.Context, method string, handlers int) context.Context {
	for _, h := range m {
		ctx = h.DispatchStarted(ctx, method, handlers)
	}
	return ctx
}

func (m multiHooks) DispatchFinished(ctx context.Context, method string, err error, elapsed time.Duration) {
	for _, h := range m {
		h.DispatchFinished(ctx, method, err, elapsed)
	}
}

func (m multiHooks) HandlerFaulted(ctx context.Context, method string, err error) {
	for _, h := range m {
		h.HandlerFaulted(ctx, method, err)
	}
}
