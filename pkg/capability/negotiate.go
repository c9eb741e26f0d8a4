package capability

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
)

type slot struct {
	opts   map[string]interface{}
	object bool
	render func(map[string]interface{}) interface{}
}

// Negotiate computes the capabilities to advertise for the enabled handlers
// in reg, given the capabilities the peer announced. A capability is present
// exactly when at least one enabled handler provides it and the peer meets
// its prerequisite. Handlers whose prerequisite is missing are reported by
// Snapshot.Mismatches and left out.
//
// Options of handlers sharing a key are merged: booleans are OR'ed, string
// lists are unioned in registration order and for anything else the first
// handler wins.
func (t *Table) Negotiate(peer json.RawMessage, reg *registry.Snapshot) *Snapshot {
	s := &Snapshot{
		table:   t.name,
		version: reg.Version(),
		tree:    map[string]interface{}{},
		methods: map[string]map[string]interface{}{},
	}

	slots := map[string]*slot{}
	var order []string
	for _, e := range t.entries {
		descs := reg.Lookup(e.Method, e.Direction)
		if len(descs) == 0 {
			continue
		}
		if e.Prerequisite != "" && !truthy(gjson.GetBytes(peer, e.Prerequisite)) {
			s.mismatches = append(s.mismatches, rpcerrors.CapabilityMismatch(e.Method, e.Key, e.Prerequisite))
			continue
		}

		methodOpts := s.methods[e.Method]
		for _, d := range descs {
			methodOpts = mergeOptions(methodOpts, d.Options)

			key := e.Key
			if d.Capability != "" {
				key = d.Capability
			}
			if key == "" {
				continue
			}
			sl, ok := slots[key]
			if !ok {
				sl = &slot{opts: map[string]interface{}{}}
				slots[key] = sl
				order = append(order, key)
			}
			sl.opts = mergeOptions(sl.opts, d.Options)
			if e.Flag != "" {
				sl.opts[e.Flag] = true
				sl.object = true
			}
			if e.ObjectOnly {
				sl.object = true
			}
			if e.Render != nil {
				sl.render = e.Render
			}
		}
		if methodOpts == nil {
			methodOpts = map[string]interface{}{}
		}
		s.methods[e.Method] = methodOpts
	}

	for _, key := range order {
		sl := slots[key]
		var value interface{} = true
		switch {
		case sl.render != nil:
			value = sl.render(sl.opts)
		case sl.object || len(sl.opts) > 0:
			value = sl.opts
		}
		setPath(s.tree, key, value)
	}
	return s
}

// truthy reports whether a peer capability is announced: present and not
// false, null, zero or empty.
func truthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	}
	return true
}

func setPath(tree map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[p] = next
		}
		node = next
	}
	last := parts[len(parts)-1]
	if existing, ok := node[last].(map[string]interface{}); ok {
		if m, ok := value.(map[string]interface{}); ok {
			node[last] = mergeOptions(existing, m)
			return
		}
	}
	node[last] = value
}

func mergeOptions(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		cur, ok := dst[k]
		if !ok {
			dst[k] = cloneValue(v)
			continue
		}
		dst[k] = mergeValue(cur, v)
	}
	return dst
}

func mergeValue(a, b interface{}) interface{} {
	switch av := a.(type) {
	case bool:
		if bv, ok := b.(bool); ok {
			return av || bv
		}
		return a
	case map[string]interface{}:
		if bm, ok := b.(map[string]interface{}); ok {
			return mergeOptions(av, bm)
		}
		return a
	}
	if as, ok := stringList(a); ok {
		if bs, ok := stringList(b); ok {
			return union(as, bs)
		}
	}
	return a
}

func stringList(v interface{}) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, l := range [][]string{a, b} {
		for _, s := range l {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return mergeOptions(nil, t)
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
