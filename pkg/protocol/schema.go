package protocol

import "sort"

// Direction tells which side of a connection may originate a method.
type Direction int

const (
	// ClientToServer methods are sent by the client (editor, debugger UI).
	ClientToServer Direction = iota + 1
	// ServerToClient methods are sent by the server (language server, debug adapter).
	ServerToClient
	// Bidirectional methods may be sent by either side.
	Bidirectional
)

// String returns the direction name
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	case Bidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// Reverse returns the opposite concrete direction.
func (d Direction) Reverse() Direction {
	switch d {
	case ClientToServer:
		return ServerToClient
	case ServerToClient:
		return ClientToServer
	default:
		return d
	}
}

// Accepts reports whether a message travelling in direction other may use a
// method declared with direction d.
func (d Direction) Accepts(other Direction) bool {
	if d == Bidirectional {
		return other == ClientToServer || other == ServerToClient || other == Bidirectional
	}
	return d == other
}

// ExecutionMode is the dispatch policy of a method.
type ExecutionMode int

const (
	// ModeDefault defers to the schema's declared mode.
	ModeDefault ExecutionMode = iota
	// Serial methods have exactly one handler per dispatch and run one at a time.
	Serial
	// Parallel methods fan out to every matching handler and aggregate results.
	Parallel
)

// String returns the mode name
func (m ExecutionMode) String() string {
	switch m {
	case Serial:
		return "serial"
	case Parallel:
		return "parallel"
	default:
		return "default"
	}
}

// MessageKind distinguishes requests from notifications.
type MessageKind int

const (
	KindRequest MessageKind = iota + 1
	KindNotification
)

// MethodInfo is the immutable schema entry of a method.
type MethodInfo struct {
	Name      string
	Direction Direction
	Kind      MessageKind
	Mode      ExecutionMode

	// ResolveMethod names the follow-up resolve method of a provide method.
	ResolveMethod string
	// ResolveOf names the provide method a resolve method belongs to.
	ResolveOf string

	// PartialResults marks methods that accept a partialResultToken.
	PartialResults bool
	// Supersede marks methods whose older in-flight request for the same
	// document is answered with ContentModified when a newer one arrives.
	Supersede bool
	// Ordered marks notifications that must be handled in submission order
	// per document.
	Ordered bool
}

// IsRequest reports whether the method expects a response.
func (m MethodInfo) IsRequest() bool {
	return m.Kind == KindRequest
}

// Schema is a fixed catalog of methods for one protocol.
type Schema struct {
	name    string
	methods map[string]MethodInfo
}

// NewSchema builds a schema from method entries. Entries without a mode
// default to Serial for requests and Parallel for notifications.
func NewSchema(name string, methods ...MethodInfo) *Schema {
	s := &Schema{
		name:    name,
		methods: make(map[string]MethodInfo, len(methods)),
	}
	for _, m := range methods {
		if m.Mode == ModeDefault {
			if m.Kind == KindNotification {
				m.Mode = Parallel
			} else {
				m.Mode = Serial
			}
		}
		s.methods[m.Name] = m
	}
	// back-link resolve methods to their provide method
	for name, m := range s.methods {
		if m.ResolveMethod == "" {
			continue
		}
		if r, ok := s.methods[m.ResolveMethod]; ok {
			r.ResolveOf = name
			s.methods[m.ResolveMethod] = r
		}
	}
	return s
}

// Name returns the protocol name of the schema
func (s *Schema) Name() string {
	return s.name
}

// Lookup returns the schema entry for a method
func (s *Schema) Lookup(method string) (MethodInfo, bool) {
	m, ok := s.methods[method]
	return m, ok
}

// Methods returns every method of the schema sorted by name.
func (s *Schema) Methods() []MethodInfo {
	out := make([]MethodInfo, 0, len(s.methods))
	for _, m := range s.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
