package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// ChangeKind tells what happened to a descriptor.
type ChangeKind int

const (
	ChangeRegistered ChangeKind = iota + 1
	ChangeUnregistered
	ChangeEnabled
	ChangeDisabled
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRegistered:
		return "registered"
	case ChangeUnregistered:
		return "unregistered"
	case ChangeEnabled:
		return "enabled"
	case ChangeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after a snapshot is published.
type Change struct {
	Kind       ChangeKind
	Descriptor *Descriptor
	Snapshot   *Snapshot
}

// Registry is the mutable front of the descriptor snapshots. Writers are
// serialized; readers never block.
type Registry struct {
	schema *protocol.Schema
	logger logging.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	seq     uint64

	subsMu  sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry validating methods against schema.
func New(schema *protocol.Schema, opts ...RegistryOption) *Registry {
	r := &Registry{
		schema: schema,
		logger: logging.NewNop(),
		subs:   make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())
	return r
}

// Schema returns the schema the registry validates against.
func (r *Registry) Schema() *protocol.Schema {
	return r.schema
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup returns the enabled descriptors for method and dir from the
// current snapshot, in registration order.
func (r *Registry) Lookup(method string, dir protocol.Direction) []*Descriptor {
	return r.Snapshot().Lookup(method, dir)
}

func (r *Registry) build(h Handler, method string, dir protocol.Direction, opts []Option) (*Descriptor, protocol.MethodInfo, error) {
	if h == nil {
		return nil, protocol.MethodInfo{}, rpcerrors.ConfigurationError("nil handler for %s", method)
	}
	info, ok := r.schema.Lookup(method)
	if !ok {
		return nil, info, rpcerrors.ConfigurationError("method %s is not part of the %s protocol", method, r.schema.Name())
	}
	if dir != protocol.ClientToServer && dir != protocol.ServerToClient && dir != protocol.Bidirectional {
		return nil, info, rpcerrors.ConfigurationError("invalid direction for %s", method)
	}
	if !info.Direction.Accepts(dir) {
		return nil, info, rpcerrors.ConfigurationError("method %s is %s, cannot register it as %s", method, info.Direction, dir)
	}

	d := &Descriptor{
		Method:    method,
		Direction: dir,
		Handler:   h,
		Enabled:   true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Mode == protocol.ModeDefault {
		d.Mode = info.Mode
	}
	if err := d.Selector.Validate(); err != nil {
		return nil, info, rpcerrors.ConfigurationError("invalid document selector for %s: %v", method, err)
	}
	return d, info, nil
}

// Register adds a handler for method travelling in dir. It fails when the
// method is unknown to the schema or declared with another direction.
func (r *Registry) Register(h Handler, method string, dir protocol.Direction, opts ...Option) (DescriptorID, error) {
	d, info, err := r.build(h, method, dir, opts)
	if err != nil {
		return "", err
	}
	if info.ResolveOf != "" {
		d.Resolve = true
	}

	r.mu.Lock()
	d.ID = newDescriptorID()
	r.seq++
	d.seq = r.seq
	snap := r.Snapshot().with(d)
	r.current.Store(snap)
	r.mu.Unlock()

	r.logger.Debug("Handler registered",
		logging.String("method", method),
		logging.String("direction", dir.String()),
		logging.String("mode", d.Mode.String()),
		logging.String("descriptor", string(d.ID)),
	)
	r.notify(Change{Kind: ChangeRegistered, Descriptor: d, Snapshot: snap})
	return d.ID, nil
}

// RegisterResolvable registers a provide handler for method together with
// a resolve handler for the method's paired resolve method. The two
// descriptors link to each other and are removed together.
func (r *Registry) RegisterResolvable(provide, resolve Handler, method string, dir protocol.Direction, opts ...Option) (DescriptorID, DescriptorID, error) {
	p, info, err := r.build(provide, method, dir, opts)
	if err != nil {
		return "", "", err
	}
	if info.ResolveMethod == "" {
		return "", "", rpcerrors.ConfigurationError("method %s has no resolve method", method)
	}
	res, _, err := r.build(resolve, info.ResolveMethod, dir, opts)
	if err != nil {
		return "", "", err
	}
	res.Resolve = true
	// registration options describe the provide capability
	res.Options = nil

	r.mu.Lock()
	p.ID, res.ID = newDescriptorID(), newDescriptorID()
	p.Pair, res.Pair = res.ID, p.ID
	r.seq++
	p.seq = r.seq
	r.seq++
	res.seq = r.seq
	snap := r.Snapshot().with(p).with(res)
	r.current.Store(snap)
	r.mu.Unlock()

	r.logger.Debug("Resolvable handler registered",
		logging.String("method", method),
		logging.String("resolve_method", info.ResolveMethod),
		logging.String("descriptor", string(p.ID)),
	)
	r.notify(Change{Kind: ChangeRegistered, Descriptor: p, Snapshot: snap})
	r.notify(Change{Kind: ChangeRegistered, Descriptor: res, Snapshot: snap})
	return p.ID, res.ID, nil
}

// Unregister removes a descriptor and its pair. It reports whether the
// descriptor existed.
func (r *Registry) Unregister(id DescriptorID) bool {
	r.mu.Lock()
	cur := r.Snapshot()
	d, ok := cur.Get(id)
	if !ok {
		r.mu.Unlock()
		return false
	}
	removed := []*Descriptor{d}
	next := cur.without(id)
	if d.Pair != "" {
		if pair, ok := cur.Get(d.Pair); ok {
			removed = append(removed, pair)
			next = next.without(pair.ID)
		}
	}
	r.current.Store(next)
	r.mu.Unlock()

	for _, x := range removed {
		r.logger.Debug("Handler unregistered",
			logging.String("method", x.Method),
			logging.String("descriptor", string(x.ID)),
		)
		r.notify(Change{Kind: ChangeUnregistered, Descriptor: x, Snapshot: next})
	}
	return true
}

// SetEnabled toggles a descriptor. It reports whether the descriptor
// exists; setting the current state again publishes nothing.
func (r *Registry) SetEnabled(id DescriptorID, enabled bool) bool {
	r.mu.Lock()
	cur := r.Snapshot()
	d, ok := cur.Get(id)
	if !ok {
		r.mu.Unlock()
		return false
	}
	if d.Enabled == enabled {
		r.mu.Unlock()
		return true
	}
	updated := d.clone()
	updated.Enabled = enabled
	next := cur.with(updated)
	r.current.Store(next)
	r.mu.Unlock()

	kind := ChangeDisabled
	if enabled {
		kind = ChangeEnabled
	}
	r.notify(Change{Kind: kind, Descriptor: updated, Snapshot: next})
	return true
}

// Subscribe registers fn to be called after every change. The returned
// function cancels the subscription.
func (r *Registry) Subscribe(fn func(Change)) (cancel func()) {
	r.subsMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
		})
	}
}

func (r *Registry) notify(c Change) {
	r.subsMu.RLock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subsMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
