// Package resolve routes "resolve" requests (codeLens/resolve,
// completionItem/resolve, ...) back to the handler pair that produced the
// item.
//
// Provide results are stamped: every item's data field is wrapped as
//
//	{"$route": "<token>", "$data": <original data>}
//
// and the token is remembered in a bounded LRU together with the producing
// descriptors and the document the item came from. Resolve handlers only
// ever see the original data. When a token is unknown (evicted, foreign, or
// its descriptor is gone) routing falls back to the declared data shapes of
// the candidate resolve handlers, most specific selector tier first.
package resolve

import (
	"encoding/json"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/tinylru"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

const (
	// RouteKey holds the route token inside a stamped data field.
	RouteKey = "$route"
	// DataKey holds the original data inside a stamped data field.
	DataKey = "$data"

	// DefaultCacheSize is the number of route tokens kept when no size is
	// configured.
	DefaultCacheSize = 4096
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome tells how a resolve item was routed.
type Outcome string

const (
	OutcomeToken      Outcome = "token"
	OutcomeStructural Outcome = "structural"
	OutcomeFailed     Outcome = "failed"
)

// Observer is notified of every routing decision.
type Observer interface {
	ResolveRouted(method string, outcome Outcome)
}

// Route is what a token stands for.
type Route struct {
	Token    string
	Provide  registry.DescriptorID
	Resolve  registry.DescriptorID
	Document *selector.Document
}

// Routed is a routing decision for one incoming resolve item.
type Routed struct {
	Descriptor *registry.Descriptor
	// Params is the item with its original data restored.
	Params  json.RawMessage
	Outcome Outcome
	token   string
}

// Token returns the route token the result will be stamped with.
func (r *Routed) Token() string {
	return r.token
}

// Correlator stamps provide results and routes resolve requests.
type Correlator struct {
	cache    tinylru.LRU
	logger   logging.Logger
	observer Observer
}

// Option configures a Correlator
type Option func(*Correlator)

// WithLogger sets the correlator logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// WithObserver attaches an observer for routing outcomes.
func WithObserver(o Observer) Option {
	return func(c *Correlator) {
		c.observer = o
	}
}

// New creates a correlator remembering at most size tokens.
func New(size int, opts ...Option) *Correlator {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Correlator{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.cache.Resize(size)
	return c
}

// Len returns the number of remembered tokens.
func (c *Correlator) Len() int {
	return c.cache.Len()
}

// Lookup returns the route a token stands for.
func (c *Correlator) Lookup(token string) (*Route, bool) {
	v, ok := c.cache.Get(token)
	if !ok {
		return nil, false
	}
	return v.(*Route), true
}

func (c *Correlator) remember(provide, resolve registry.DescriptorID, doc *selector.Document) *Route {
	r := &Route{
		Token:    uuid.NewString(),
		Provide:  provide,
		Resolve:  resolve,
		Document: doc,
	}
	c.cache.Set(r.Token, r)
	return r
}

// Stamp wraps the data of every item produced by the provide descriptor
// and records one token for the batch. Items that are not JSON objects
// pass through untouched.
func (c *Correlator) Stamp(provide *registry.Descriptor, doc *selector.Document, items []json.RawMessage) ([]json.RawMessage, error) {
	if len(items) == 0 {
		return items, nil
	}
	route := c.remember(provide.ID, provide.Pair, doc)

	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		stamped, err := wrap(item, route.Token)
		if err != nil {
			return nil, err
		}
		out[i] = stamped
	}
	return out, nil
}

// Route picks the resolve descriptor for item. A known token whose resolve
// descriptor is still enabled wins; otherwise the candidates registered for
// method are tried tier by tier against their data shapes.
func (c *Correlator) Route(snap *registry.Snapshot, method string, dir protocol.Direction, item json.RawMessage) (*Routed, error) {
	token, data, stamped := unwrapData(item)
	params := item
	if stamped {
		var err error
		if params, err = restore(item, data); err != nil {
			return nil, err
		}
	}

	var doc *selector.Document
	if stamped {
		if route, ok := c.Lookup(token); ok {
			doc = route.Document
			if d, ok := snap.Get(route.Resolve); ok && d.Enabled && d.Method == method && d.Direction.Accepts(dir) {
				c.observe(method, OutcomeToken)
				return &Routed{Descriptor: d, Params: params, Outcome: OutcomeToken, token: token}, nil
			}
		}
	}

	d, err := structural(snap.Lookup(method, dir), doc, method, data)
	if err != nil {
		c.observe(method, OutcomeFailed)
		c.logger.Debug("Resolve routing failed",
			logging.String("method", method),
			logging.ErrorField(err),
		)
		return nil, err
	}
	route := c.remember(d.Pair, d.ID, doc)
	c.observe(method, OutcomeStructural)
	return &Routed{Descriptor: d, Params: params, Outcome: OutcomeStructural, token: route.Token}, nil
}

// Restamp wraps the data of a resolve result with the token the request
// was routed by, so resolving the result again lands on the same handler.
func (c *Correlator) Restamp(r *Routed, result json.RawMessage) (json.RawMessage, error) {
	if r.token == "" {
		return result, nil
	}
	return wrap(result, r.token)
}

func (c *Correlator) observe(method string, outcome Outcome) {
	if c.observer != nil {
		c.observer.ResolveRouted(method, outcome)
	}
}

func structural(candidates []*registry.Descriptor, doc *selector.Document, method string, data []byte) (*registry.Descriptor, error) {
	if len(candidates) == 0 {
		return nil, rpcerrors.ResolveRouting(method, "no resolve handler is registered")
	}
	for _, tier := range selector.Tiers(candidates, doc) {
		var accepted []*registry.Descriptor
		for _, d := range tier {
			if d.DataShape.Accepts(data) {
				accepted = append(accepted, d)
			}
		}
		switch len(accepted) {
		case 0:
			continue
		case 1:
			return accepted[0], nil
		default:
			return nil, rpcerrors.ResolveRouting(method, "item data matches more than one resolve handler")
		}
	}
	return nil, rpcerrors.ResolveRouting(method, "no resolve handler accepts the item data")
}

var (
	routePath = "data." + gjson.Escape(RouteKey)
	dataPath  = "data." + gjson.Escape(DataKey)
)

// unwrapData returns the token and original data of a stamped item. For
// items that were never stamped the plain data field is returned.
func unwrapData(item []byte) (token string, data []byte, stamped bool) {
	res := gjson.GetManyBytes(item, routePath, dataPath, "data")
	if res[0].Type == gjson.String {
		if res[1].Exists() {
			data = []byte(res[1].Raw)
		}
		return res[0].String(), data, true
	}
	if res[2].Exists() {
		data = []byte(res[2].Raw)
	}
	return "", data, false
}

// Unwrap restores the original data field of a stamped item. Items that were
// not stamped are returned unchanged.
func Unwrap(item json.RawMessage) (json.RawMessage, error) {
	_, data, stamped := unwrapData(item)
	if !stamped {
		return item, nil
	}
	return restore(item, data)
}

func restore(item json.RawMessage, data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := wire.Unmarshal(item, &fields); err != nil {
		return nil, rpcerrors.DecodeError("resolve item", err)
	}
	if data == nil {
		delete(fields, "data")
	} else {
		fields["data"] = data
	}
	return wire.Marshal(fields)
}

func wrap(item json.RawMessage, token string) (json.RawMessage, error) {
	if !gjson.ParseBytes(item).IsObject() {
		return item, nil
	}
	var fields map[string]json.RawMessage
	if err := wire.Unmarshal(item, &fields); err != nil {
		return nil, rpcerrors.DecodeError("resolve item", err)
	}

	envelope := map[string]json.RawMessage{
		RouteKey: json.RawMessage(`"` + token + `"`),
	}
	if orig, ok := fields["data"]; ok {
		// a result that is already stamped keeps its original payload
		if gjson.GetBytes(orig, gjson.Escape(RouteKey)).Exists() {
			if inner := gjson.GetBytes(orig, gjson.Escape(DataKey)); inner.Exists() {
				envelope[DataKey] = json.RawMessage(inner.Raw)
			}
		} else {
			envelope[DataKey] = orig
		}
	}
	data, err := wire.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	fields["data"] = data
	return wire.Marshal(fields)
}
