package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/resolve"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

// Notifier sends notifications to the peer.
type Notifier interface {
	Notify(ctx context.Context, method string, params interface{}) error
}

type partialKey struct{}

type progressParams struct {
	Token json.RawMessage `json:"token"`
	Value interface{}     `json:"value"`
}

// partialSink streams the items of one handler as $/progress batches and
// remembers what was streamed so the final response can leave it out.
type partialSink struct {
	notifier   Notifier
	token      json.RawMessage
	desc       *registry.Descriptor
	doc        *selector.Document
	correlator *resolve.Correlator

	mu       sync.Mutex
	streamed map[string]int
}

// ReportPartial streams items to the peer ahead of the final response when
// the request carries a partialResultToken. Without one it does nothing;
// handlers always return their complete result and items that were
// already streamed are dropped from it.
func ReportPartial(ctx context.Context, items ...interface{}) error {
	sink, ok := ctx.Value(partialKey{}).(*partialSink)
	if !ok || len(items) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		return rpcerrors.FromContext(ctx, sink.desc.Method)
	}
	return sink.report(ctx, items)
}

// PartialResults reports whether ReportPartial streams for ctx.
func PartialResults(ctx context.Context) bool {
	_, ok := ctx.Value(partialKey{}).(*partialSink)
	return ok
}

func (s *partialSink) report(ctx context.Context, items []interface{}) error {
	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := wire.Marshal(item)
		if err != nil {
			return rpcerrors.DecodeError("partial result", err)
		}
		raws = append(raws, compact(raw))
	}

	s.mu.Lock()
	for _, raw := range raws {
		s.streamed[string(raw)]++
	}
	s.mu.Unlock()

	out := raws
	if s.correlator != nil {
		var err error
		if out, err = s.correlator.Stamp(s.desc, s.doc, raws); err != nil {
			return err
		}
	}
	return s.notifier.Notify(ctx, protocol.MethodProgress, &progressParams{Token: s.token, Value: out})
}

// consume removes already streamed items from items.
func (s *partialSink) consume(items []json.RawMessage) []json.RawMessage {
	if s == nil {
		return items
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streamed) == 0 {
		return items
	}
	out := items[:0:0]
	for _, item := range items {
		key := string(compact(item))
		if s.streamed[key] > 0 {
			s.streamed[key]--
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *partialSink) sent() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streamed) > 0
}

func partialToken(params json.RawMessage) (json.RawMessage, bool) {
	v := gjson.GetBytes(params, "partialResultToken")
	if !v.Exists() || v.Type == gjson.Null {
		return nil, false
	}
	return json.RawMessage(v.Raw), true
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
