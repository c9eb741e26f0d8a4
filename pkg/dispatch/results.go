package dispatch

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/langrpc-go/pkg/registry"
)

// listFields are the object members that carry the items of a list result:
// the LSP CompletionList and the DAP completions body.
var listFields = []string{"items", "targets"}

var jsonNull = json.RawMessage("null")

type outcome struct {
	desc *registry.Descriptor
	raw  json.RawMessage
	err  error
	sink *partialSink
}

// items splits a handler result into list items. A null result has none,
// an array is its elements, a list object its list member and anything
// else is a single item.
func items(raw json.RawMessage) (out []json.RawMessage, field string, incomplete bool) {
	r := gjson.ParseBytes(raw)
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil, "", false
	case r.IsArray():
		for _, v := range r.Array() {
			out = append(out, json.RawMessage(v.Raw))
		}
		return out, "", false
	case r.IsObject():
		for _, f := range listFields {
			if v := r.Get(f); v.IsArray() {
				for _, item := range v.Array() {
					out = append(out, json.RawMessage(item.Raw))
				}
				return out, f, r.Get("isIncomplete").Bool()
			}
		}
	}
	return []json.RawMessage{raw}, "", false
}

type stampFunc func(desc *registry.Descriptor, items []json.RawMessage) ([]json.RawMessage, error)

// merge concatenates the successful outcomes in registration order. Each
// handler's own item order is kept.
func merge(outcomes []outcome, stamp stampFunc) (json.RawMessage, error) {
	var ok []outcome
	for _, o := range outcomes {
		if o.err == nil {
			ok = append(ok, o)
		}
	}
	// a lone handler that streamed nothing answers verbatim
	if len(ok) == 1 && stamp == nil && !ok[0].sink.sent() {
		if ok[0].raw == nil {
			return jsonNull, nil
		}
		return ok[0].raw, nil
	}

	var (
		all        = []json.RawMessage{}
		listField  string
		listBase   json.RawMessage
		incomplete bool
		present    bool
	)
	for _, o := range ok {
		parts, field, inc := items(o.raw)
		if o.raw != nil && gjson.ParseBytes(o.raw).Type != gjson.Null {
			present = true
		}
		if field != "" && listField == "" {
			listField, listBase = field, o.raw
		}
		incomplete = incomplete || inc

		parts = o.sink.consume(parts)
		if stamp != nil && len(parts) > 0 {
			var err error
			if parts, err = stamp(o.desc, parts); err != nil {
				return nil, err
			}
		}
		all = append(all, parts...)
	}

	if !present {
		return jsonNull, nil
	}
	if listField == "" {
		return wire.Marshal(all)
	}
	return rebuildList(listBase, listField, all, incomplete)
}

// rebuildList replaces the list member of base, the first list object
// returned, keeping its other members such as itemDefaults.
func rebuildList(base json.RawMessage, field string, all []json.RawMessage, incomplete bool) (json.RawMessage, error) {
	members := map[string]json.RawMessage{}
	if err := wire.Unmarshal(base, &members); err != nil {
		return nil, err
	}
	list, err := wire.Marshal(all)
	if err != nil {
		return nil, err
	}
	members[field] = list
	if field == "items" {
		members["isIncomplete"] = json.RawMessage(strconv.FormatBool(incomplete))
	}
	return wire.Marshal(members)
}
