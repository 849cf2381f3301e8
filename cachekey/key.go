// Package cachekey defines the structured cache key used across the caching
// middleware: an ordered, versioned, prefixed sequence of key parts, plus the
// serialization formats a backend can choose among.
package cachekey

import (
	"fmt"
	"strings"
)

// KeyPart is a single named fragment of a CacheKey. Value is nil when the
// source field (header, query parameter, ...) was absent from the subject.
type KeyPart struct {
	Name  string
	Value *string
}

// NewKeyPart builds a KeyPart with a present value.
func NewKeyPart(name, value string) KeyPart {
	return KeyPart{Name: name, Value: &value}
}

// NewAbsentKeyPart builds a KeyPart whose value is absent.
func NewAbsentKeyPart(name string) KeyPart {
	return KeyPart{Name: name}
}

// Equal reports whether two parts carry the same name and value.
func (p KeyPart) Equal(other KeyPart) bool {
	if p.Name != other.Name {
		return false
	}
	if (p.Value == nil) != (other.Value == nil) {
		return false
	}
	if p.Value == nil {
		return true
	}
	return *p.Value == *other.Value
}

// CacheKey is an ordered sequence of KeyPart plus a prefix and version.
// Two keys are equal iff prefix, version, and the ordered part list are
// identical; the ordering of Parts is significant.
type CacheKey struct {
	Prefix  string
	Version uint32
	Parts   []KeyPart
}

// New builds a CacheKey from an already-ordered slice of parts. The slice is
// copied so later mutation of the caller's slice cannot change the key.
func New(prefix string, version uint32, parts []KeyPart) CacheKey {
	owned := make([]KeyPart, len(parts))
	copy(owned, parts)
	return CacheKey{Prefix: prefix, Version: version, Parts: owned}
}

// Equal reports whether two keys are equal per the ordered-composition rule.
func (k CacheKey) Equal(other CacheKey) bool {
	if k.Prefix != other.Prefix || k.Version != other.Version {
		return false
	}
	if len(k.Parts) != len(other.Parts) {
		return false
	}
	for i, p := range k.Parts {
		if !p.Equal(other.Parts[i]) {
			return false
		}
	}
	return true
}

// String renders a stable, human-debuggable representation used as the
// flat-string lookup key for backends that require a string keyspace
// (e.g. an in-memory map key). It is not one of the wire formats in
// CacheKeyFormat; it exists purely for Go map/LRU key use.
func (k CacheKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s::%d::", k.Prefix, k.Version)
	for i, p := range k.Parts {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		if p.Value != nil {
			b.WriteByte('=')
			b.WriteString(*p.Value)
		}
	}
	return b.String()
}
