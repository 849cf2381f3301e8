package cachekey

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrOneWayFormat is returned by Deserialize for formats that are
// intentionally one-way (encode-only), such as UrlEncoded.
var ErrOneWayFormat = errors.New("cachekey: format does not support deserialization")

// CacheKeyFormat selects the on-the-wire encoding a backend uses for keys.
type CacheKeyFormat int

const (
	// Json is a round-trippable, human-inspectable form.
	Json CacheKeyFormat = iota
	// Bincode is a compact binary round-trippable encoding. Go has no
	// distinct bincode/bitcode codec; both map onto msgpack here (see
	// DESIGN.md).
	Bincode
	// Bitcode is an alias of Bincode in this implementation.
	Bitcode
	// UrlEncoded produces canonical key=value pairs in insertion order;
	// nil values serialize as bare keys. It is one-way: Deserialize
	// always returns ErrOneWayFormat.
	UrlEncoded
)

func (f CacheKeyFormat) String() string {
	switch f {
	case Json:
		return "json"
	case Bincode:
		return "bincode"
	case Bitcode:
		return "bitcode"
	case UrlEncoded:
		return "url_encoded"
	default:
		return "unknown"
	}
}

// flatKey is the wire shape used by Json/Bincode/Bitcode: a flattened,
// order-preserving list of parts alongside prefix/version.
type flatKey struct {
	Version uint32        `json:"version" msgpack:"version"`
	Prefix  string        `json:"prefix" msgpack:"prefix"`
	Parts   []flatKeyPart `json:"parts" msgpack:"parts"`
}

type flatKeyPart struct {
	Name  string  `json:"name" msgpack:"name"`
	Value *string `json:"value,omitempty" msgpack:"value,omitempty"`
}

func toFlat(key CacheKey) flatKey {
	parts := make([]flatKeyPart, len(key.Parts))
	for i, p := range key.Parts {
		parts[i] = flatKeyPart{Name: p.Name, Value: p.Value}
	}
	return flatKey{Version: key.Version, Prefix: key.Prefix, Parts: parts}
}

func fromFlat(f flatKey) CacheKey {
	parts := make([]KeyPart, len(f.Parts))
	for i, p := range f.Parts {
		parts[i] = KeyPart{Name: p.Name, Value: p.Value}
	}
	return CacheKey{Prefix: f.Prefix, Version: f.Version, Parts: parts}
}

// Serialize encodes key according to the selected format.
func (f CacheKeyFormat) Serialize(key CacheKey) ([]byte, error) {
	switch f {
	case Json:
		b, err := json.Marshal(toFlat(key))
		if err != nil {
			return nil, fmt.Errorf("cachekey: json serialize: %w", err)
		}
		return b, nil
	case Bincode, Bitcode:
		b, err := msgpack.Marshal(toFlat(key))
		if err != nil {
			return nil, fmt.Errorf("cachekey: msgpack serialize: %w", err)
		}
		return b, nil
	case UrlEncoded:
		return []byte(encodeOrdered(key.Parts)), nil
	default:
		return nil, fmt.Errorf("cachekey: unknown format %v", f)
	}
}

// encodeOrdered renders "k=v&k2&k3=v3" preserving insertion order, unlike
// url.Values.Encode which sorts keys alphabetically. Bare keys (nil value)
// are emitted without "=".
func encodeOrdered(parts []KeyPart) string {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, '&')
		}
		out = append(out, url.QueryEscape(p.Name)...)
		if p.Value != nil {
			out = append(out, '=')
			out = append(out, url.QueryEscape(*p.Value)...)
		}
	}
	return string(out)
}

// Deserialize decodes data back into a CacheKey. UrlEncoded always returns
// ErrOneWayFormat: it is used for storage keys only, never round-tripped.
func (f CacheKeyFormat) Deserialize(data []byte) (CacheKey, error) {
	switch f {
	case Json:
		var flat flatKey
		if err := json.Unmarshal(data, &flat); err != nil {
			return CacheKey{}, fmt.Errorf("cachekey: json deserialize: %w", err)
		}
		return fromFlat(flat), nil
	case Bincode, Bitcode:
		var flat flatKey
		if err := msgpack.Unmarshal(data, &flat); err != nil {
			return CacheKey{}, fmt.Errorf("cachekey: msgpack deserialize: %w", err)
		}
		return fromFlat(flat), nil
	case UrlEncoded:
		return CacheKey{}, ErrOneWayFormat
	default:
		return CacheKey{}, fmt.Errorf("cachekey: unknown format %v", f)
	}
}
