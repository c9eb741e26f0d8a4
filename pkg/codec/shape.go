package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

// FieldKind is the JSON kind a shape field must have.
type FieldKind int

const (
	AnyKind FieldKind = iota
	StringKind
	NumberKind
	BoolKind
	ObjectKind
	ArrayKind
)

func (k FieldKind) String() string {
	switch k {
	case StringKind:
		return "string"
	case NumberKind:
		return "number"
	case BoolKind:
		return "boolean"
	case ObjectKind:
		return "object"
	case ArrayKind:
		return "array"
	default:
		return "any"
	}
}

func (k FieldKind) matches(v gjson.Result) bool {
	switch k {
	case StringKind:
		return v.Type == gjson.String
	case NumberKind:
		return v.Type == gjson.Number
	case BoolKind:
		return v.IsBool()
	case ObjectKind:
		return v.IsObject()
	case ArrayKind:
		return v.IsArray()
	default:
		return true
	}
}

// ShapeField is one constraint of a Shape. Path uses gjson dot syntax.
type ShapeField struct {
	Path     string
	Kind     FieldKind
	Optional bool
}

// Shape describes the structure a JSON value must have. Resolve handlers
// declare the shape of the data they produce so items can be routed back
// to them.
type Shape struct {
	Name   string
	Fields []ShapeField
}

// NewShape builds a shape from fields.
func NewShape(name string, fields ...ShapeField) *Shape {
	return &Shape{Name: name, Fields: fields}
}

// Required is a shorthand for a mandatory field.
func Required(path string, kind FieldKind) ShapeField {
	return ShapeField{Path: path, Kind: kind}
}

// Optional is a shorthand for a field that may be missing.
func Optional(path string, kind FieldKind) ShapeField {
	return ShapeField{Path: path, Kind: kind, Optional: true}
}

// Check reports whether data conforms to the shape.
func (s *Shape) Check(data []byte) error {
	if s == nil {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return rpcerrors.DecodeError(s.Name, errInvalidJSON)
	}
	var problems []string
	for _, f := range s.Fields {
		v := gjson.GetBytes(data, f.Path)
		if !v.Exists() {
			if !f.Optional {
				problems = append(problems, fmt.Sprintf("missing %s", f.Path))
			}
			continue
		}
		if !f.Kind.matches(v) {
			problems = append(problems, fmt.Sprintf("%s is %s, want %s", f.Path, v.Type, f.Kind))
		}
	}
	if len(problems) > 0 {
		return rpcerrors.DecodeError(s.Name, errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// Accepts is Check as a predicate.
func (s *Shape) Accepts(data []byte) bool {
	return s.Check(data) == nil
}
