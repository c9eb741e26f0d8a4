package capability

import (
	"bytes"
	"encoding/json"
	"sort"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/go-dap"
	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the immutable result of a negotiation.
type Snapshot struct {
	table      string
	version    uint64
	tree       map[string]interface{}
	methods    map[string]map[string]interface{}
	mismatches []error
}

// Table returns the name of the table the snapshot was negotiated from.
func (s *Snapshot) Table() string {
	return s.table
}

// RegistryVersion is the version of the registry snapshot negotiated.
func (s *Snapshot) RegistryVersion() uint64 {
	return s.version
}

// Present reports whether method is advertised.
func (s *Snapshot) Present(method string) bool {
	_, ok := s.methods[method]
	return ok
}

// Methods returns the advertised methods, sorted.
func (s *Snapshot) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Options returns the merged options of the handlers of method.
func (s *Snapshot) Options(method string) (map[string]interface{}, bool) {
	opts, ok := s.methods[method]
	if !ok {
		return nil, false
	}
	return mergeOptions(nil, opts), true
}

// Tree returns a copy of the capability object.
func (s *Snapshot) Tree() map[string]interface{} {
	return mergeOptions(nil, s.tree)
}

// Mismatches returns one CapabilityMismatch error per method whose handlers
// were left out because the peer lacks a prerequisite.
func (s *Snapshot) Mismatches() []error {
	return append([]error(nil), s.mismatches...)
}

// MarshalJSON encodes the capability object. Keys are sorted so equal
// snapshots encode identically.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return wire.Marshal(s.tree)
}

// Delta lists how the advertised methods changed between two snapshots.
type Delta struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares s with an earlier snapshot. A nil prev counts as empty.
func (s *Snapshot) Diff(prev *Snapshot) Delta {
	var d Delta
	var before map[string]map[string]interface{}
	if prev != nil {
		before = prev.methods
	}
	for m, opts := range s.methods {
		old, ok := before[m]
		switch {
		case !ok:
			d.Added = append(d.Added, m)
		case !equalJSON(old, opts):
			d.Changed = append(d.Changed, m)
		}
	}
	for m := range before {
		if _, ok := s.methods[m]; !ok {
			d.Removed = append(d.Removed, m)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// MergePatch returns the JSON merge patch (RFC 7386) that turns the
// capability object of prev into that of s.
func (s *Snapshot) MergePatch(prev *Snapshot) ([]byte, error) {
	before, err := prev.MarshalJSON()
	if err != nil {
		return nil, err
	}
	after, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(before, after)
}

// Apply applies a merge patch to a capability object, as received from a
// peer that announces changes.
func Apply(caps json.RawMessage, patch []byte) (json.RawMessage, error) {
	if len(caps) == 0 {
		caps = json.RawMessage("{}")
	}
	return jsonpatch.MergePatch(caps, patch)
}

// DAP converts a snapshot negotiated from the DebugAdapter table into the
// body of a DAP initialize response.
func DAP(s *Snapshot) (dap.Capabilities, error) {
	var caps dap.Capabilities
	raw, err := s.MarshalJSON()
	if err != nil {
		return caps, err
	}
	err = wire.Unmarshal(raw, &caps)
	return caps, err
}

func equalJSON(a, b interface{}) bool {
	ra, errA := wire.Marshal(a)
	rb, errB := wire.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}
