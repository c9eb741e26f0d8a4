// Package registry holds the handlers a session exposes. Every handler is
// published as an immutable Descriptor inside a Snapshot; writers swap in a
// new snapshot so dispatches that already started keep the view they
// captured.
package registry

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ajitpratap0/langrpc-go/pkg/codec"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

// Handler processes one request or notification. For notifications the
// result is discarded.
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return f(ctx, params)
}

// DescriptorID identifies a registered handler.
type DescriptorID string

func newDescriptorID() DescriptorID {
	return DescriptorID(uuid.NewString())
}

// Descriptor is the published, immutable record of one handler.
type Descriptor struct {
	ID        DescriptorID
	Method    string
	Direction protocol.Direction
	Mode      protocol.ExecutionMode

	// Capability overrides the capability key the negotiator reports the
	// handler under.
	Capability string
	Selector   selector.Selector
	Options    map[string]interface{}
	// DataShape is the structure of the data a resolve handler accepts.
	DataShape *codec.Shape

	// Pair links a provide descriptor and its resolve descriptor.
	Pair DescriptorID
	// Resolve marks the resolve half of a pair.
	Resolve bool
	Enabled bool

	Handler Handler

	seq uint64
}

// DocumentSelector implements selector.Scoped.
func (d *Descriptor) DocumentSelector() selector.Selector {
	return d.Selector
}

// Seq returns the registration sequence number; lower registered earlier.
func (d *Descriptor) Seq() uint64 {
	return d.seq
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	return &c
}

// Option configures a descriptor at registration
type Option func(*Descriptor)

// WithMode overrides the schema's execution mode.
func WithMode(mode protocol.ExecutionMode) Option {
	return func(d *Descriptor) {
		d.Mode = mode
	}
}

// WithCapability sets the capability key the handler is advertised under.
func WithCapability(key string) Option {
	return func(d *Descriptor) {
		d.Capability = key
	}
}

// WithSelector restricts the handler to matching documents.
func WithSelector(sel selector.Selector) Option {
	return func(d *Descriptor) {
		d.Selector = sel
	}
}

// WithOptions sets registration options merged into the capability entry.
func WithOptions(opts map[string]interface{}) Option {
	return func(d *Descriptor) {
		d.Options = opts
	}
}

// WithDataShape declares the shape of resolve data the handler accepts.
func WithDataShape(shape *codec.Shape) Option {
	return func(d *Descriptor) {
		d.DataShape = shape
	}
}

// Disabled registers the handler disabled.
func Disabled() Option {
	return func(d *Descriptor) {
		d.Enabled = false
	}
}
