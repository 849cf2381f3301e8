// Package extractor implements the composable key-extraction pipeline: each
// Extractor consumes a subject and appends one or more KeyPart values to an
// accumulator, then passes the subject (possibly rebuilt, e.g. around a
// buffered body) to the next stage.
package extractor

import (
	"context"

	"github.com/felipecampolina/cachemw/cachekey"
)

// KeyParts is the builder accumulator carrying the subject and the growing,
// ordered list of KeyPart values.
type KeyParts[Subject any] struct {
	Subject Subject
	Parts   []cachekey.KeyPart
}

// Extractor consumes a subject and returns KeyParts with parts appended.
type Extractor[Subject any] interface {
	Extract(ctx context.Context, acc KeyParts[Subject]) (KeyParts[Subject], error)
}

// Func adapts a plain function to an Extractor.
type Func[Subject any] func(ctx context.Context, acc KeyParts[Subject]) (KeyParts[Subject], error)

// Extract implements Extractor.
func (f Func[Subject]) Extract(ctx context.Context, acc KeyParts[Subject]) (KeyParts[Subject], error) {
	return f(ctx, acc)
}

// Chain composes extractors by right-folding: each wraps an inner extractor,
// calls it first, then appends its own parts — extraction order in the
// final key matches left-to-right order of the arguments here.
func Chain[Subject any](extractors ...Extractor[Subject]) Extractor[Subject] {
	return Func[Subject](func(ctx context.Context, acc KeyParts[Subject]) (KeyParts[Subject], error) {
		for _, e := range extractors {
			var err error
			acc, err = e.Extract(ctx, acc)
			if err != nil {
				return acc, err
			}
		}
		return acc, nil
	})
}

// BuildKey runs extractor over subject and assembles the resulting
// CacheKey with the given prefix/version.
func BuildKey[Subject any](ctx context.Context, extractor Extractor[Subject], subject Subject, prefix string, version uint32) (cachekey.CacheKey, error) {
	acc := KeyParts[Subject]{Subject: subject}
	acc, err := extractor.Extract(ctx, acc)
	if err != nil {
		return cachekey.CacheKey{}, err
	}
	return cachekey.New(prefix, version, acc.Parts), nil
}
