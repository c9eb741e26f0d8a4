// Package codec serializes the closed-set "this-or-that" values of LSP and
// DAP. Every type here round-trips: decoding what was encoded yields the
// same variant with the same payload. Malformed input is reported as a
// Decode error that maps to InvalidParams on the wire.
package codec

import (
	"bytes"
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	jsonNull  = []byte("null")
	jsonTrue  = []byte("true")
	jsonFalse = []byte("false")
)

type boolOrState uint8

const (
	stateUnsupported boolOrState = iota
	stateFlag
	stateValue
)

// BoolOr is a capability-style value that is either a boolean or an
// options object: false (unsupported), true (supported, no options) or T.
// The zero value is unsupported.
type BoolOr[T any] struct {
	state boolOrState
	value T
}

// False returns the unsupported variant.
func False[T any]() BoolOr[T] {
	return BoolOr[T]{}
}

// True returns the supported-without-options variant.
func True[T any]() BoolOr[T] {
	return BoolOr[T]{state: stateFlag}
}

// Value returns the supported-with-options variant.
func Value[T any](v T) BoolOr[T] {
	return BoolOr[T]{state: stateValue, value: v}
}

// Supported reports whether the value is true or carries options.
func (b BoolOr[T]) Supported() bool {
	return b.state != stateUnsupported
}

// IsFlag reports whether the value is the bare true flag.
func (b BoolOr[T]) IsFlag() bool {
	return b.state == stateFlag
}

// Get returns the options payload and whether one is present.
func (b BoolOr[T]) Get() (T, bool) {
	return b.value, b.state == stateValue
}

func (b BoolOr[T]) MarshalJSON() ([]byte, error) {
	switch b.state {
	case stateFlag:
		return jsonTrue, nil
	case stateValue:
		return wire.Marshal(b.value)
	default:
		return jsonFalse, nil
	}
}

func (b *BoolOr[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var zero T
	switch {
	case bytes.Equal(data, jsonNull), bytes.Equal(data, jsonFalse):
		*b = BoolOr[T]{value: zero}
		return nil
	case bytes.Equal(data, jsonTrue):
		*b = BoolOr[T]{state: stateFlag, value: zero}
		return nil
	}

	var v T
	if err := wire.Unmarshal(data, &v); err != nil {
		return rpcerrors.DecodeError("boolean or options", err)
	}
	*b = BoolOr[T]{state: stateValue, value: v}
	return nil
}

// Option distinguishes an explicit null from a present value. Absent
// encodes as null.
type Option[T any] struct {
	value   T
	present bool
}

// Some returns a present option.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, present: true}
}

// None returns an absent option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool {
	return o.present
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// OrElse returns the value or def when absent.
func (o Option[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return jsonNull, nil
	}
	return wire.Marshal(o.value)
}

func (o *Option[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, jsonNull) {
		*o = Option[T]{}
		return nil
	}
	var v T
	if err := wire.Unmarshal(data, &v); err != nil {
		return rpcerrors.DecodeError("optional value", err)
	}
	*o = Option[T]{value: v, present: true}
	return nil
}

// Encode marshals any codec value with the package's JSON configuration.
func Encode(v interface{}) (json.RawMessage, error) {
	b, err := wire.Marshal(v)
	if err != nil {
		return nil, rpcerrors.WrapError(err, rpcerrors.KindInternal, "cannot encode value")
	}
	return b, nil
}

// Decode unmarshals data into v. Parser errors are wrapped as Decode
// errors naming typeName.
func Decode(data []byte, v interface{}, typeName string) error {
	if err := wire.Unmarshal(data, v); err != nil {
		if rpcerrors.IsKind(err, rpcerrors.KindDecode) {
			return err
		}
		return rpcerrors.DecodeError(typeName, err)
	}
	return nil
}
