package codec

import (
	"github.com/tidwall/gjson"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

// OneOrMany is a list that is written bare when it holds exactly one
// element. Decoding accepts either form and always yields a slice.
type OneOrMany[T any] []T

func (s OneOrMany[T]) MarshalJSON() ([]byte, error) {
	switch len(s) {
	case 0:
		return []byte("[]"), nil
	case 1:
		return wire.Marshal(s[0])
	default:
		return wire.Marshal([]T(s))
	}
}

func (s *OneOrMany[T]) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return rpcerrors.DecodeError("list", errInvalidJSON)
	}
	v := gjson.ParseBytes(data)
	if v.Type == gjson.Null {
		*s = nil
		return nil
	}
	if v.IsArray() {
		var items []T
		if err := Decode(data, &items, "list"); err != nil {
			return err
		}
		if items == nil {
			items = []T{}
		}
		*s = items
		return nil
	}
	var one T
	if err := Decode(data, &one, "list item"); err != nil {
		return err
	}
	*s = OneOrMany[T]{one}
	return nil
}
