// Package dispatch routes incoming requests and notifications to the
// handlers registered in a registry.
//
// Serial methods run exactly one handler, chosen by document selector
// specificity, and handlers of the same method run one at a time. Parallel
// methods fan out to every matching handler and concatenate list results
// in registration order. Requests are tracked by id so $/cancelRequest and
// Cancel can stop them; supersede-flagged methods answer older requests
// for the same document with ContentModified.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/resolve"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

// DefaultMaxConcurrency bounds the number of handlers running at once.
const DefaultMaxConcurrency = 64

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by Submit after Close.
var ErrClosed = rpcerrors.NewError(rpcerrors.KindProtocol, "dispatcher closed")

// ReplyFunc receives the response to a submitted request.
type ReplyFunc func(*protocol.Response)

// Dispatcher routes messages travelling in one direction.
type Dispatcher struct {
	reg      *registry.Registry
	schema   *protocol.Schema
	incoming protocol.Direction

	logger         logging.Logger
	hooks          Hooks
	notifier       Notifier
	correlator     *resolve.Correlator
	tracker        *selector.Tracker
	maxConcurrency int

	slots    *semaphore.Weighted
	serial   cmap.ConcurrentMap[string, *semaphore.Weighted]
	inflight cmap.ConcurrentMap[string, *call]
	// latest maps method and document to the newest request key
	latest cmap.ConcurrentMap[string, string]
	order  *sequencer

	wg     sync.WaitGroup
	closed atomic.Bool
}

// call is a tracked request.
type call struct {
	id        interface{}
	key       string
	method    string
	ctx       context.Context
	cancel    context.CancelCauseFunc
	supersede string
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithHooks attaches observability hooks.
func WithHooks(h Hooks) Option {
	return func(d *Dispatcher) {
		d.hooks = h
	}
}

// WithNotifier enables partial result streaming through n.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

// WithCorrelator enables stamping of provide results and routing of
// resolve requests.
func WithCorrelator(c *resolve.Correlator) Option {
	return func(d *Dispatcher) {
		d.correlator = c
	}
}

// WithTracker lets selectors match on the language of open documents.
func WithTracker(t *selector.Tracker) Option {
	return func(d *Dispatcher) {
		d.tracker = t
	}
}

// WithMaxConcurrency bounds the number of handlers running at once. Values
// below one select DefaultMaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.maxConcurrency = n
	}
}

// New creates a dispatcher for messages travelling in direction incoming.
func New(reg *registry.Registry, incoming protocol.Direction, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:            reg,
		schema:         reg.Schema(),
		incoming:       incoming,
		logger:         logging.NewNop(),
		hooks:          nopHooks{},
		maxConcurrency: DefaultMaxConcurrency,
		serial:         cmap.New[*semaphore.Weighted](),
		inflight:       cmap.New[*call](),
		latest:         cmap.New[string](),
		order:          newSequencer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxConcurrency <= 0 {
		d.maxConcurrency = DefaultMaxConcurrency
	}
	d.slots = semaphore.NewWeighted(int64(d.maxConcurrency))
	return d
}

// HandleRequest dispatches a request and waits for its response.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	c, resp := d.begin(ctx, req)
	if resp != nil {
		return resp
	}
	return d.serve(c, req)
}

// HandleNotification dispatches a notification and waits for its handlers.
// Notifications without handlers are only an error for methods outside
// the optional "$/" namespace.
func (d *Dispatcher) HandleNotification(ctx context.Context, n *protocol.Notification) error {
	d.observe(n)
	return d.notify(ctx, n)
}

// Submit dispatches msg asynchronously. Requests are tracked and ordered
// notifications take their per-document ticket before Submit returns, so a
// later cancellation or notification for the same document always sees
// them. reply receives the response of a request.
func (d *Dispatcher) Submit(ctx context.Context, msg interface{}, reply ReplyFunc) error {
	if d.closed.Load() {
		return ErrClosed
	}
	switch m := msg.(type) {
	case *protocol.Request:
		c, resp := d.begin(ctx, m)
		if resp != nil {
			reply(resp)
			return nil
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			reply(d.serve(c, m))
		}()
		return nil

	case *protocol.Notification:
		d.observe(m)
		if m.Method == protocol.MethodCancelRequest {
			return d.notify(ctx, m)
		}
		var t *ticket
		if info, ok := d.schema.Lookup(m.Method); ok && info.Ordered {
			t = d.order.take(orderKey(m.Params))
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if t != nil {
				defer t.done()
				if err := t.wait(ctx); err != nil {
					return
				}
			}
			_ = d.notify(ctx, m)
		}()
		return nil

	default:
		return rpcerrors.ProtocolError(fmt.Sprintf("cannot dispatch %T", msg))
	}
}

// Cancel cancels an in-flight request. It reports whether the request was
// still running; cancelling a request that already answered does nothing.
func (d *Dispatcher) Cancel(id interface{}) bool {
	c, ok := d.inflight.Get(protocol.IDKey(id))
	if !ok {
		return false
	}
	c.cancel(rpcerrors.Cancelled(c.method))
	d.logger.Debug("Request cancelled",
		logging.String("request_id", c.key),
		logging.String("method", c.method),
	)
	return true
}

// InFlight returns the number of requests that have not answered yet.
func (d *Dispatcher) InFlight() int {
	return d.inflight.Count()
}

// Wait blocks until every submitted message is handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting messages, cancels every in-flight request and
// waits for running handlers until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closed.Store(true)
	d.inflight.IterCb(func(_ string, c *call) {
		c.cancel(rpcerrors.Cancelled(c.method))
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) begin(ctx context.Context, req *protocol.Request) (*call, *protocol.Response) {
	key := protocol.IDKey(req.ID)
	if key == "" {
		return nil, rpcerrors.ToResponse(rpcerrors.ProtocolError("missing request id"), req.ID)
	}
	if d.closed.Load() {
		return nil, rpcerrors.ToResponse(rpcerrors.Cancelled(req.Method), req.ID)
	}

	ctx = logging.ContextWithRequestID(ctx, key)
	ctx = logging.ContextWithMethod(ctx, req.Method)
	cctx, cancel := context.WithCancelCause(ctx)
	c := &call{id: req.ID, key: key, method: req.Method, ctx: cctx, cancel: cancel}
	if !d.inflight.SetIfAbsent(key, c) {
		cancel(nil)
		return nil, rpcerrors.ToResponse(rpcerrors.ProtocolError("duplicate request id "+key), req.ID)
	}

	if info, ok := d.schema.Lookup(req.Method); ok && info.Supersede {
		if doc, ok := selector.DocumentFromParams(req.Params); ok {
			c.supersede = req.Method + "\x00" + doc.URI
			var prev string
			d.latest.Upsert(c.supersede, key, func(exists bool, old, key string) string {
				if exists {
					prev = old
				}
				return key
			})
			if older, ok := d.inflight.Get(prev); ok && prev != "" {
				older.cancel(rpcerrors.ContentModified(older.method))
				d.logger.Debug("Request superseded",
					logging.String("request_id", older.key),
					logging.String("method", older.method),
				)
			}
		}
	}
	return c, nil
}

func (d *Dispatcher) untrack(c *call) {
	d.inflight.RemoveCb(c.key, func(_ string, v *call, exists bool) bool {
		return exists && v == c
	})
	if c.supersede != "" {
		d.latest.RemoveCb(c.supersede, func(_ string, v string, exists bool) bool {
			return exists && v == c.key
		})
	}
}

func (d *Dispatcher) serve(c *call, req *protocol.Request) *protocol.Response {
	defer c.cancel(nil)

	result, err := d.run(c.ctx, req.Method, req.Params)
	d.untrack(c)
	if err != nil {
		d.logFailure(c.ctx, req.Method, err)
		return rpcerrors.ToResponse(err, req.ID)
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		err = rpcerrors.WrapError(err, rpcerrors.KindInternal, "failed to encode result")
		d.logFailure(c.ctx, req.Method, err)
		return rpcerrors.ToResponse(err, req.ID)
	}
	return resp
}

func (d *Dispatcher) observe(n *protocol.Notification) {
	if d.tracker != nil {
		d.tracker.Observe(n.Method, n.Params)
	}
}

func (d *Dispatcher) notify(ctx context.Context, n *protocol.Notification) error {
	if n.Method == protocol.MethodCancelRequest {
		d.cancelFromParams(n.Params)
		if len(d.reg.Lookup(n.Method, d.incoming)) == 0 {
			return nil
		}
	}

	ctx = logging.ContextWithMethod(ctx, n.Method)
	_, err := d.run(ctx, n.Method, n.Params)
	if err == nil {
		return nil
	}
	if rpcerrors.IsKind(err, rpcerrors.KindMethodNotFound) && strings.HasPrefix(n.Method, "$/") {
		return nil
	}
	d.logFailure(ctx, n.Method, err)
	return err
}

func (d *Dispatcher) cancelFromParams(params json.RawMessage) {
	id := gjson.GetBytes(params, "id")
	if !id.Exists() {
		d.logger.Warn("Cancel request without id")
		return
	}
	d.Cancel(id.Value())
}

func (d *Dispatcher) logFailure(ctx context.Context, method string, err error) {
	l := d.logger.WithContext(ctx).WithError(err)
	switch {
	case rpcerrors.IsKind(err, rpcerrors.KindCancelled), rpcerrors.IsKind(err, rpcerrors.KindContentModified):
		l.Debug("Dispatch stopped", logging.String("method", method))
	case rpcerrors.IsKind(err, rpcerrors.KindMethodNotFound):
		l.Debug("No handler", logging.String("method", method))
	default:
		l.Warn("Dispatch failed", logging.String("method", method))
	}
}

// plan is the outcome of handler selection.
type plan struct {
	method   string
	info     protocol.MethodInfo
	snap     *registry.Snapshot
	doc      *selector.Document
	params   json.RawMessage
	handlers []*registry.Descriptor
	serial   bool
	routed   *resolve.Routed
}

func (d *Dispatcher) document(params json.RawMessage) *selector.Document {
	if d.tracker != nil {
		if doc, ok := d.tracker.Document(params); ok {
			return doc
		}
		return nil
	}
	if doc, ok := selector.DocumentFromParams(params); ok {
		return doc
	}
	return nil
}

func (d *Dispatcher) plan(method string, params json.RawMessage) (*plan, error) {
	info, ok := d.schema.Lookup(method)
	if !ok || !info.Direction.Accepts(d.incoming) {
		return nil, rpcerrors.MethodNotFound(method)
	}
	p := &plan{
		method: method,
		info:   info,
		snap:   d.reg.Snapshot(),
		doc:    d.document(params),
		params: params,
	}

	if info.ResolveOf != "" && d.correlator != nil {
		routed, err := d.correlator.Route(p.snap, method, d.incoming, params)
		if err != nil {
			return nil, err
		}
		p.routed = routed
		p.params = routed.Params
		p.handlers = []*registry.Descriptor{routed.Descriptor}
		p.serial = true
		return p, nil
	}

	matched := selector.Match(p.snap.Lookup(method, d.incoming), p.doc)
	if len(matched) == 0 {
		return nil, rpcerrors.MethodNotFound(method)
	}
	for _, desc := range matched {
		if desc.Mode == protocol.Serial {
			p.serial = true
			break
		}
	}
	if !p.serial {
		p.handlers = matched
		return p, nil
	}

	top := selector.MostSpecific(matched, p.doc)
	if len(top) > 1 {
		ids := make([]string, len(top))
		for i, desc := range top {
			ids[i] = string(desc.ID)
		}
		return nil, rpcerrors.AmbiguousHandler(method, ids)
	}
	p.handlers = top
	return p, nil
}

func (d *Dispatcher) run(ctx context.Context, method string, params json.RawMessage) (result json.RawMessage, err error) {
	start := time.Now()
	p, err := d.plan(method, params)
	handlers := 0
	if p != nil {
		handlers = len(p.handlers)
	}
	ctx = d.hooks.DispatchStarted(ctx, method, handlers)
	defer func() {
		d.hooks.DispatchFinished(ctx, method, err, time.Since(start))
	}()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, rpcerrors.FromContext(ctx, method)
	}

	var outcomes []outcome
	if p.serial {
		outcomes, err = d.runSerial(ctx, p)
	} else {
		outcomes = d.runParallel(ctx, p)
	}
	// cancellation observed before completion wins over results and faults
	if ctx.Err() != nil {
		return nil, rpcerrors.FromContext(ctx, method)
	}
	if err != nil {
		return nil, err
	}
	return d.complete(p, outcomes)
}

func (d *Dispatcher) serialLock(method string) *semaphore.Weighted {
	return d.serial.Upsert(method, nil, func(exists bool, cur, _ *semaphore.Weighted) *semaphore.Weighted {
		if exists {
			return cur
		}
		return semaphore.NewWeighted(1)
	})
}

func (d *Dispatcher) runSerial(ctx context.Context, p *plan) ([]outcome, error) {
	lock := d.serialLock(p.method)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, rpcerrors.FromContext(ctx, p.method)
	}
	defer lock.Release(1)

	o := outcome{desc: p.handlers[0], sink: d.sink(p, p.handlers[0])}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, rpcerrors.FromContext(ctx, p.method)
	}
	defer d.slots.Release(1)

	o.raw, o.err = d.invoke(ctx, p, o)
	return []outcome{o}, nil
}

func (d *Dispatcher) runParallel(ctx context.Context, p *plan) []outcome {
	outcomes := make([]outcome, len(p.handlers))
	var g errgroup.Group
	for i, desc := range p.handlers {
		i := i
		outcomes[i] = outcome{desc: desc, sink: d.sink(p, desc)}
		g.Go(func() error {
			if err := d.slots.Acquire(ctx, 1); err != nil {
				outcomes[i].err = err
				return nil
			}
			defer d.slots.Release(1)
			if ctx.Err() != nil {
				outcomes[i].err = ctx.Err()
				return nil
			}
			outcomes[i].raw, outcomes[i].err = d.invoke(ctx, p, outcomes[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// invoke runs one handler, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, p *plan, o outcome) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithContext(ctx).Error("Handler panicked",
				logging.String("method", p.method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			raw, err = nil, rpcerrors.HandlerPanic(p.method, r)
		}
		if err != nil {
			d.hooks.HandlerFaulted(ctx, p.method, err)
		}
	}()

	hctx := ctx
	if o.sink != nil {
		hctx = context.WithValue(ctx, partialKey{}, o.sink)
	}
	result, err := o.desc.Handler.Handle(hctx, p.params)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := wire.Marshal(result)
	if err != nil {
		return nil, rpcerrors.WrapError(err, rpcerrors.KindInternal, "failed to encode result")
	}
	return b, nil
}

func (d *Dispatcher) sink(p *plan, desc *registry.Descriptor) *partialSink {
	if d.notifier == nil || !p.info.PartialResults {
		return nil
	}
	token, ok := partialToken(p.params)
	if !ok {
		return nil
	}
	s := &partialSink{
		notifier: d.notifier,
		token:    token,
		desc:     desc,
		doc:      p.doc,
		streamed: make(map[string]int),
	}
	if d.stamps(p) {
		s.correlator = d.correlator
	}
	return s
}

// stamps reports whether provide results of p carry route tokens.
func (d *Dispatcher) stamps(p *plan) bool {
	return d.correlator != nil && p.info.ResolveMethod != "" && len(p.snap.Registered(p.info.ResolveMethod)) > 0
}

func (d *Dispatcher) complete(p *plan, outcomes []outcome) (json.RawMessage, error) {
	var faults []error
	for _, o := range outcomes {
		if o.err != nil {
			faults = append(faults, o.err)
		}
	}
	if len(faults) > 0 && len(faults) == len(outcomes) {
		if len(faults) == 1 {
			return nil, fault(p.method, faults[0])
		}
		return nil, rpcerrors.AllHandlersFaulted(p.method, faults)
	}
	for _, err := range faults {
		d.logger.Warn("Handler failed, using remaining results",
			logging.String("method", p.method),
			logging.ErrorField(err),
			logging.Int("handlers", len(outcomes)),
		)
	}

	if p.routed != nil {
		raw := outcomes[0].raw
		if raw == nil {
			return jsonNull, nil
		}
		return d.correlator.Restamp(p.routed, raw)
	}

	var stamp stampFunc
	if d.stamps(p) {
		stamp = func(desc *registry.Descriptor, items []json.RawMessage) ([]json.RawMessage, error) {
			return d.correlator.Stamp(desc, p.doc, items)
		}
	}
	return merge(outcomes, stamp)
}

// fault keeps classified handler errors and wraps everything else as a
// HandlerFault.
func fault(method string, err error) error {
	if rpcErr, ok := rpcerrors.AsRPCError(err); ok {
		return rpcErr
	}
	return rpcerrors.HandlerFault(method, err)
}

func orderKey(params json.RawMessage) string {
	if doc, ok := selector.DocumentFromParams(params); ok {
		return doc.URI
	}
	return ""
}
