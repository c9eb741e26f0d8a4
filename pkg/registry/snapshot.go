package registry

import (
	"sort"

	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	version  uint64
	byID     map[DescriptorID]*Descriptor
	byMethod map[string][]*Descriptor
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byID:     map[DescriptorID]*Descriptor{},
		byMethod: map[string][]*Descriptor{},
	}
}

// Version increases with every change.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of descriptors, enabled or not.
func (s *Snapshot) Len() int {
	return len(s.byID)
}

// Get returns a descriptor by id.
func (s *Snapshot) Get(id DescriptorID) (*Descriptor, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// Lookup returns the enabled descriptors for method that accept messages
// travelling in dir, in registration order.
func (s *Snapshot) Lookup(method string, dir protocol.Direction) []*Descriptor {
	var out []*Descriptor
	for _, d := range s.byMethod[method] {
		if d.Enabled && d.Direction.Accepts(dir) {
			out = append(out, d)
		}
	}
	return out
}

// Registered returns every descriptor for method, enabled or not, in
// registration order.
func (s *Snapshot) Registered(method string) []*Descriptor {
	return append([]*Descriptor(nil), s.byMethod[method]...)
}

// All returns every descriptor in registration order.
func (s *Snapshot) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Methods returns the methods with at least one descriptor, sorted.
func (s *Snapshot) Methods() []string {
	out := make([]string, 0, len(s.byMethod))
	for m := range s.byMethod {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// with returns a copy of s with d added or replaced.
func (s *Snapshot) with(d *Descriptor) *Snapshot {
	next := s.copy()
	_, replacing := next.byID[d.ID]
	next.byID[d.ID] = d

	list := append([]*Descriptor(nil), next.byMethod[d.Method]...)
	if replacing {
		for i, old := range list {
			if old.ID == d.ID {
				list[i] = d
			}
		}
	} else {
		list = append(list, d)
	}
	next.byMethod[d.Method] = list
	return next
}

// without returns a copy of s with the descriptor removed.
func (s *Snapshot) without(id DescriptorID) *Snapshot {
	d, ok := s.byID[id]
	if !ok {
		return s
	}
	next := s.copy()
	delete(next.byID, id)

	old := next.byMethod[d.Method]
	list := make([]*Descriptor, 0, len(old))
	for _, x := range old {
		if x.ID != id {
			list = append(list, x)
		}
	}
	if len(list) == 0 {
		delete(next.byMethod, d.Method)
	} else {
		next.byMethod[d.Method] = list
	}
	return next
}

func (s *Snapshot) copy() *Snapshot {
	next := &Snapshot{
		version:  s.version + 1,
		byID:     make(map[DescriptorID]*Descriptor, len(s.byID)+1),
		byMethod: make(map[string][]*Descriptor, len(s.byMethod)+1),
	}
	for k, v := range s.byID {
		next.byID[k] = v
	}
	for k, v := range s.byMethod {
		next.byMethod[k] = v
	}
	return next
}
