// Package backend defines the storage contract a cache backend plugin must
// satisfy, and the typed read/write helper the FSM uses so it never touches
// raw bytes directly.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felipecampolina/cachemw/cachekey"
	"github.com/felipecampolina/cachemw/cachevalue"
	"github.com/felipecampolina/cachemw/cachevalue/compressor"
)

// Sentinel errors a backend implementation should wrap via fmt.Errorf("...: %w", ...).
var (
	ErrInternal      = errors.New("backend: internal error")
	ErrConnection    = errors.New("backend: connection error")
	ErrSerialization = errors.New("backend: serialization error")
)

// DeleteStatus is the result of Remove.
type DeleteStatus int

const (
	// Missing means the key did not exist.
	Missing DeleteStatus = iota
	// Deleted means the key existed and was removed.
	Deleted
)

// ValueFormat selects the serialization format for the cached payload.
type ValueFormat int

const (
	// JSONValue is a round-trippable debug/interop form.
	JSONValue ValueFormat = iota
	// BincodeValue is a compact binary round-trippable encoding (msgpack
	// in this implementation).
	BincodeValue
	// BitcodeValue is an alias of BincodeValue in this implementation.
	BitcodeValue
)

// Backend is the storage contract a cache backend plugin must satisfy, over
// raw (already-serialized-and-compressed) bytes.
type Backend interface {
	Read(ctx context.Context, key cachekey.CacheKey) (*cachevalue.CacheValue[[]byte], error)
	Write(ctx context.Context, key cachekey.CacheKey, value cachevalue.CacheValue[[]byte], ttlHint *time.Duration) error
	Remove(ctx context.Context, key cachekey.CacheKey) (DeleteStatus, error)
	KeyFormat() cachekey.CacheKeyFormat
	ValueFormat() ValueFormat
	Compressor() compressor.Compressor
}

// codecValue is the wire shape persisted by Typed: the raw Data field plus
// its expire/stale timestamps, serialized as a unit before compression.
type codecValue struct {
	Data   []byte     `json:"data" msgpack:"data"`
	Expire *time.Time `json:"expire,omitempty" msgpack:"expire,omitempty"`
	Stale  *time.Time `json:"stale,omitempty" msgpack:"stale,omitempty"`
}

// Coalescer is an optional capability a Backend may implement to dampen
// redundant concurrent calls for the same key — e.g. the FSM's
// stale-while-revalidate path with locks disabled, where multiple
// independent revalidation goroutines would otherwise race to refresh the
// same entry. Callers that want this MUST type-assert for it; a Backend
// without it simply runs every call independently.
type Coalescer interface {
	Coalesce(key string, fn func() (any, error)) (any, error, bool)
}

// Typed wraps a Backend with a typed read/write API, so the FSM and other
// callers never see raw bytes. T is the cached payload type (the Cached
// form of a CacheableResponse).
type Typed[T any] struct {
	Backend Backend
	// Marshal/Unmarshal encode/decode T to/from bytes, independent of the
	// Backend's own ValueFormat (which governs the outer codecValue
	// envelope). Both must be non-nil: Read and Write call them directly.
	// NewJSONTyped sets them to encoding/json.
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
}

// Read fetches, decompresses, and deserializes the typed cache value for key.
// Returns (nil, nil) on miss. Any backend/codec error should be treated by
// the caller as a Miss, per the FSM's error-handling policy.
func (t Typed[T]) Read(ctx context.Context, key cachekey.CacheKey) (*cachevalue.CacheValue[T], error) {
	raw, err := t.Backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	decompressed, err := t.Backend.Compressor().Decompress(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrSerialization, err)
	}
	var cv codecValue
	if err := unmarshalEnvelope(t.Backend.ValueFormat(), decompressed, &cv); err != nil {
		return nil, fmt.Errorf("%w: deserialize envelope: %v", ErrSerialization, err)
	}
	data, err := t.Unmarshal(cv.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: deserialize payload: %v", ErrSerialization, err)
	}
	return &cachevalue.CacheValue[T]{Data: data, Expire: cv.Expire, Stale: cv.Stale}, nil
}

// Write serializes, compresses, and writes the typed cache value for key.
func (t Typed[T]) Write(ctx context.Context, key cachekey.CacheKey, value cachevalue.CacheValue[T], ttlHint *time.Duration) error {
	payload, err := t.Marshal(value.Data)
	if err != nil {
		return fmt.Errorf("%w: serialize payload: %v", ErrSerialization, err)
	}
	envelope := codecValue{Data: payload, Expire: value.Expire, Stale: value.Stale}
	marshaled, err := marshalEnvelope(t.Backend.ValueFormat(), envelope)
	if err != nil {
		return fmt.Errorf("%w: serialize envelope: %v", ErrSerialization, err)
	}
	compressed, err := t.Backend.Compressor().Compress(marshaled)
	if err != nil {
		return fmt.Errorf("%w: compress: %v", ErrSerialization, err)
	}
	return t.Backend.Write(ctx, key, cachevalue.CacheValue[[]byte]{Data: compressed}, ttlHint)
}

// Remove deletes the value for key.
func (t Typed[T]) Remove(ctx context.Context, key cachekey.CacheKey) (DeleteStatus, error) {
	return t.Backend.Remove(ctx, key)
}
