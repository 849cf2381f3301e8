package backend

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func marshalEnvelope(format ValueFormat, v codecValue) ([]byte, error) {
	switch format {
	case JSONValue:
		return json.Marshal(v)
	case BincodeValue, BitcodeValue:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("backend: unknown value format %v", format)
	}
}

func unmarshalEnvelope(format ValueFormat, data []byte, out *codecValue) error {
	switch format {
	case JSONValue:
		return json.Unmarshal(data, out)
	case BincodeValue, BitcodeValue:
		return msgpack.Unmarshal(data, out)
	default:
		return fmt.Errorf("backend: unknown value format %v", format)
	}
}

// NewJSONTyped builds a Typed[T] that marshals/unmarshals T via encoding/json,
// the common case for a CacheableResponse's Cached form.
func NewJSONTyped[T any](b Backend) Typed[T] {
	return Typed[T]{
		Backend: b,
		Marshal: func(v T) ([]byte, error) { return json.Marshal(v) },
		Unmarshal: func(data []byte) (T, error) {
			var v T
			err := json.Unmarshal(data, &v)
			return v, err
		},
	}
}
