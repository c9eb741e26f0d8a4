package resolve

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/codec"
	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

type lensData struct {
	Owner string `json:"owner"`
	Index int    `json:"index"`
}

func lens(line uint32, owner string, index int) json.RawMessage {
	data, _ := json.Marshal(lensData{Owner: owner, Index: index})
	raw := json.RawMessage(data)
	b, _ := json.Marshal(lsp.CodeLens{
		Range: lsp.Range{
			Start: lsp.Position{Line: line, Character: line},
			End:   lsp.Position{Line: line, Character: line + 1},
		},
		Data: raw,
	})
	return b
}

// moveLens is a resolve handler shifting the lens one line down.
func moveLens(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var l lsp.CodeLens
	if err := json.Unmarshal(params, &l); err != nil {
		return nil, err
	}
	l.Range.Start.Line++
	l.Range.Start.Character++
	l.Range.End.Line++
	l.Range.End.Character++
	l.Command = &lsp.Command{Title: "moved", Command: "noop"}
	return l, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *countingObserver) ResolveRouted(method string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type fixture struct {
	reg      *registry.Registry
	h1, h1r  registry.DescriptorID
	h2, h2r  registry.DescriptorID
	h2Called bool
}

func newFixture(t *testing.T, opts ...registry.Option) *fixture {
	t.Helper()
	f := &fixture{reg: registry.New(protocol.LSP())}
	provide := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	var err error
	f.h1, f.h1r, err = f.reg.RegisterResolvable(provide, registry.HandlerFunc(moveLens),
		protocol.MethodCodeLens, protocol.ClientToServer, opts...)
	require.NoError(t, err)

	f.h2, f.h2r, err = f.reg.RegisterResolvable(provide, registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		f.h2Called = true
		return nil, nil
	}), protocol.MethodCodeLens, protocol.ClientToServer, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) descriptor(t *testing.T, id registry.DescriptorID) *registry.Descriptor {
	d, ok := f.reg.Snapshot().Get(id)
	require.True(t, ok)
	return d
}

func TestStampWrapsData(t *testing.T) {
	f := newFixture(t)
	c := New(16)

	items := []json.RawMessage{lens(0, "h1", 0), json.RawMessage(`{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}}}`), json.RawMessage(`"bare"`)}
	stamped, err := c.Stamp(f.descriptor(t, f.h1), nil, items)
	require.NoError(t, err)
	require.Len(t, stamped, 3)

	token := gjson.GetBytes(stamped[0], routePath).String()
	require.NotEmpty(t, token)
	assert.Equal(t, "h1", gjson.GetBytes(stamped[0], dataPath+".owner").String())
	assert.Equal(t, token, gjson.GetBytes(stamped[1], routePath).String())
	assert.False(t, gjson.GetBytes(stamped[1], dataPath).Exists(), "missing data stays missing")
	assert.Equal(t, `"bare"`, string(stamped[2]))

	route, ok := c.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, f.h1, route.Provide)
	assert.Equal(t, f.h1r, route.Resolve)

	unwrapped, err := Unwrap(stamped[1])
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(unwrapped, "data").Exists())
}

func TestRouteByToken(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{}
	c := New(16, WithObserver(obs))

	h1Items, err := c.Stamp(f.descriptor(t, f.h1), nil, []json.RawMessage{lens(0, "h1", 0), lens(1, "h1", 1), lens(2, "h1", 2)})
	require.NoError(t, err)
	h2Items, err := c.Stamp(f.descriptor(t, f.h2), nil, []json.RawMessage{lens(0, "h2", 0), lens(1, "h2", 1), lens(2, "h2", 2)})
	require.NoError(t, err)

	routed, err := c.Route(f.reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, h1Items[2])
	require.NoError(t, err)
	assert.Equal(t, f.h1r, routed.Descriptor.ID)
	assert.Equal(t, OutcomeToken, routed.Outcome)
	assert.Equal(t, "h1", gjson.GetBytes(routed.Params, "data.owner").String())
	assert.False(t, gjson.GetBytes(routed.Params, routePath).Exists(), "handlers see the original data")

	routed, err = c.Route(f.reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, h2Items[0])
	require.NoError(t, err)
	assert.Equal(t, f.h2r, routed.Descriptor.ID)

	assert.Equal(t, []Outcome{OutcomeToken, OutcomeToken}, obs.outcomes)
}

func TestResolveMovesOwnItemOnly(t *testing.T) {
	f := newFixture(t)
	c := New(16)

	items, err := c.Stamp(f.descriptor(t, f.h1), nil, []json.RawMessage{lens(1, "h1", 0), lens(2, "h1", 1)})
	require.NoError(t, err)

	snap := f.reg.Snapshot()
	routed, err := c.Route(snap, protocol.MethodCodeLensResolve, protocol.ClientToServer, items[1])
	require.NoError(t, err)

	result, err := routed.Descriptor.Handler.Handle(context.Background(), routed.Params)
	require.NoError(t, err)
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	raw, err = c.Restamp(routed, raw)
	require.NoError(t, err)

	var resolved lsp.CodeLens
	require.NoError(t, json.Unmarshal(raw, &resolved))
	assert.Equal(t, uint32(3), resolved.Range.Start.Line)
	assert.Equal(t, uint32(3), resolved.Range.Start.Character)
	assert.False(t, f.h2Called)

	// the resolved item routes identically a second time
	again, err := c.Route(snap, protocol.MethodCodeLensResolve, protocol.ClientToServer, raw)
	require.NoError(t, err)
	assert.Equal(t, routed.Descriptor.ID, again.Descriptor.ID)
	assert.Equal(t, routed.Token(), again.Token())
	assert.Equal(t, "h1", gjson.GetBytes(again.Params, "data.owner").String())
}

func TestStructuralFallback(t *testing.T) {
	t.Run("indistinguishable shapes are ambiguous", func(t *testing.T) {
		f := newFixture(t)
		c := New(16)

		_, err := c.Route(f.reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, lens(0, "h1", 0))
		require.Error(t, err)
		assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindResolveRouting))
	})

	t.Run("distinct shapes route structurally", func(t *testing.T) {
		reg := registry.New(protocol.LSP())
		nop := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) { return nil, nil })

		_, fileResolve, err := reg.RegisterResolvable(nop, nop, protocol.MethodCodeLens, protocol.ClientToServer,
			registry.WithDataShape(codec.NewShape("file", codec.Required("file", codec.StringKind))))
		require.NoError(t, err)
		_, testResolve, err := reg.RegisterResolvable(nop, nop, protocol.MethodCodeLens, protocol.ClientToServer,
			registry.WithDataShape(codec.NewShape("test", codec.Required("test", codec.NumberKind))))
		require.NoError(t, err)

		obs := &countingObserver{}
		c := New(16, WithObserver(obs))
		item := json.RawMessage(`{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}},"data":{"test":4}}`)
		routed, err := c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, item)
		require.NoError(t, err)
		assert.Equal(t, testResolve, routed.Descriptor.ID)
		assert.Equal(t, OutcomeStructural, routed.Outcome)
		assert.NotEmpty(t, routed.Token(), "structural routes are remembered for the result")

		item = json.RawMessage(`{"data":{"file":"a.go"}}`)
		routed, err = c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, item)
		require.NoError(t, err)
		assert.Equal(t, fileResolve, routed.Descriptor.ID)

		_, err = c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, json.RawMessage(`{"data":{"other":true}}`))
		assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindResolveRouting))
		assert.Equal(t, []Outcome{OutcomeStructural, OutcomeStructural, OutcomeFailed}, obs.outcomes)
	})

	t.Run("more specific tier wins", func(t *testing.T) {
		reg := registry.New(protocol.LSP())
		nop := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) { return nil, nil })

		goProvide, _, err := reg.RegisterResolvable(nop, nop, protocol.MethodCodeLens, protocol.ClientToServer,
			registry.WithSelector(selector.Language("go")))
		require.NoError(t, err)
		_, globalResolve, err := reg.RegisterResolvable(nop, nop, protocol.MethodCodeLens, protocol.ClientToServer)
		require.NoError(t, err)

		c := New(16)
		d, _ := reg.Snapshot().Get(goProvide)
		doc := &selector.Document{URI: "file:///a.go", LanguageID: "go"}
		items, err := c.Stamp(d, doc, []json.RawMessage{lens(0, "go", 0)})
		require.NoError(t, err)

		// disabling the go resolver sends its items to the structural path,
		// which still honours the recorded document
		goResolve := d.Pair
		require.True(t, reg.SetEnabled(goResolve, false))
		routed, err := c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, items[0])
		require.NoError(t, err)
		assert.Equal(t, globalResolve, routed.Descriptor.ID)

		require.True(t, reg.SetEnabled(goResolve, true))
		routed, err = c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, items[0])
		require.NoError(t, err)
		assert.Equal(t, goResolve, routed.Descriptor.ID)
		assert.Equal(t, OutcomeToken, routed.Outcome)
	})

	t.Run("no resolve handler", func(t *testing.T) {
		c := New(16)
		_, err := c.Route(registry.New(protocol.LSP()).Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, lens(0, "x", 0))
		assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindResolveRouting))
	})
}

func TestEvictedTokenFallsBack(t *testing.T) {
	reg := registry.New(protocol.LSP())
	nop := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) { return nil, nil })
	provide, resolveID, err := reg.RegisterResolvable(nop, nop, protocol.MethodCodeLens, protocol.ClientToServer)
	require.NoError(t, err)

	c := New(1)
	d, _ := reg.Snapshot().Get(provide)
	first, err := c.Stamp(d, nil, []json.RawMessage{lens(0, "a", 0)})
	require.NoError(t, err)
	_, err = c.Stamp(d, nil, []json.RawMessage{lens(0, "b", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	routed, err := c.Route(reg.Snapshot(), protocol.MethodCodeLensResolve, protocol.ClientToServer, first[0])
	require.NoError(t, err)
	assert.Equal(t, resolveID, routed.Descriptor.ID)
	assert.Equal(t, OutcomeStructural, routed.Outcome)
	assert.Equal(t, "a", gjson.GetBytes(routed.Params, "data.owner").String())
}
