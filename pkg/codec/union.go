package codec

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

var errInvalidJSON = errors.New("invalid JSON")

// Discriminator recognizes one variant of a structural union.
type Discriminator struct {
	Name  string
	Match func(v gjson.Result) bool
}

// Discriminate returns the index of the first discriminator matching data.
// Discriminators are tried in the order given, so callers list them by
// priority. No match is a Decode error naming union.
func Discriminate(union string, data []byte, ds ...Discriminator) (int, error) {
	if !gjson.ValidBytes(data) {
		return -1, rpcerrors.DecodeError(union, errInvalidJSON)
	}
	v := gjson.ParseBytes(data)
	for i, d := range ds {
		if d.Match(v) {
			return i, nil
		}
	}
	return -1, rpcerrors.DecodeError(union, fmt.Errorf("no variant matches %s", v.Type))
}

// HasKey matches objects that carry key.
func HasKey(key string) func(gjson.Result) bool {
	return func(v gjson.Result) bool {
		return v.IsObject() && v.Get(gjson.Escape(key)).Exists()
	}
}

// HasAnyKey matches objects that carry at least one of keys.
func HasAnyKey(keys ...string) func(gjson.Result) bool {
	return func(v gjson.Result) bool {
		if !v.IsObject() {
			return false
		}
		for _, k := range keys {
			if v.Get(gjson.Escape(k)).Exists() {
				return true
			}
		}
		return false
	}
}

// HasStringKey matches objects whose key holds a string.
func HasStringKey(key string) func(gjson.Result) bool {
	return func(v gjson.Result) bool {
		return v.IsObject() && v.Get(gjson.Escape(key)).Type == gjson.String
	}
}

// IsString matches bare strings.
func IsString(v gjson.Result) bool {
	return v.Type == gjson.String
}

// IsNumber matches bare numbers.
func IsNumber(v gjson.Result) bool {
	return v.Type == gjson.Number
}

// IsObject matches any object.
func IsObject(v gjson.Result) bool {
	return v.IsObject()
}

// IsArray matches any array.
func IsArray(v gjson.Result) bool {
	return v.IsArray()
}
