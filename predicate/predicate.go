// Package predicate implements the composable cacheability decision tree:
// a Predicate evaluates a subject (request or response) to Cacheable or
// NonCacheable, with short-circuiting And/Or/Not/Neutral combinators.
package predicate

import "context"

// Outcome is the cacheability verdict of a Predicate evaluation.
type Outcome int

const (
	// Cacheable means the subject may proceed to caching.
	Cacheable Outcome = iota
	// NonCacheable means the subject must bypass caching.
	NonCacheable
)

// Result pairs an Outcome with the (possibly rebuilt) subject. Predicates
// MUST return the subject in all non-error branches so that downstream
// stages (further predicates, extractors) can still run against it — in
// particular, body predicates that buffer the body return a subject wrapping
// the replayable buffered body.
type Result[Subject any] struct {
	Outcome Outcome
	Subject Subject
}

// Predicate is a single evaluation step over a subject.
type Predicate[Subject any] interface {
	Check(ctx context.Context, subject Subject) (Result[Subject], error)
}

// Func adapts a plain function to a Predicate.
type Func[Subject any] func(ctx context.Context, subject Subject) (Result[Subject], error)

// Check implements Predicate.
func (f Func[Subject]) Check(ctx context.Context, subject Subject) (Result[Subject], error) {
	return f(ctx, subject)
}

// Neutral is the identity predicate: always Cacheable, used as the fold seed
// when composing a list of predicates with And.
func Neutral[Subject any]() Predicate[Subject] {
	return Func[Subject](func(_ context.Context, subject Subject) (Result[Subject], error) {
		return Result[Subject]{Outcome: Cacheable, Subject: subject}, nil
	})
}

// And evaluates p; if NonCacheable, short-circuits with NonCacheable. If
// Cacheable, evaluates q against the subject p returned.
func And[Subject any](p, q Predicate[Subject]) Predicate[Subject] {
	return Func[Subject](func(ctx context.Context, subject Subject) (Result[Subject], error) {
		r, err := p.Check(ctx, subject)
		if err != nil {
			return r, err
		}
		if r.Outcome == NonCacheable {
			return r, nil
		}
		return q.Check(ctx, r.Subject)
	})
}

// AndAll folds a list of predicates with And, seeded by Neutral. This is the
// default left-to-right composition when a user lists predicates.
func AndAll[Subject any](predicates ...Predicate[Subject]) Predicate[Subject] {
	acc := Neutral[Subject]()
	for _, p := range predicates {
		acc = And(acc, p)
	}
	return acc
}

// Or evaluates p; if Cacheable, short-circuits (q is never called). Else
// evaluates q against the (returned) subject.
func Or[Subject any](p, q Predicate[Subject]) Predicate[Subject] {
	return Func[Subject](func(ctx context.Context, subject Subject) (Result[Subject], error) {
		r, err := p.Check(ctx, subject)
		if err != nil {
			return r, err
		}
		if r.Outcome == Cacheable {
			return r, nil
		}
		return q.Check(ctx, r.Subject)
	})
}

// Not evaluates p and flips Cacheable<->NonCacheable, preserving the subject.
func Not[Subject any](p Predicate[Subject]) Predicate[Subject] {
	return Func[Subject](func(ctx context.Context, subject Subject) (Result[Subject], error) {
		r, err := p.Check(ctx, subject)
		if err != nil {
			return r, err
		}
		if r.Outcome == Cacheable {
			r.Outcome = NonCacheable
		} else {
			r.Outcome = Cacheable
		}
		return r, nil
	})
}
