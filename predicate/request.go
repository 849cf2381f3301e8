package predicate

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/felipecampolina/cachemw/subject"
)

func cacheable(s subject.Request) Result[subject.Request] {
	return Result[subject.Request]{Outcome: Cacheable, Subject: s}
}

func nonCacheable(s subject.Request) Result[subject.Request] {
	return Result[subject.Request]{Outcome: NonCacheable, Subject: s}
}

// Method builds a predicate matching the request method against the allowed
// set. A single allowed value behaves as Eq; more than one behaves as In.
func Method(allowed ...string) Predicate[subject.Request] {
	set := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		set[strings.ToUpper(m)] = struct{}{}
	}
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if _, ok := set[strings.ToUpper(s.Method)]; ok {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// Path builds a predicate matching the request path against pattern.
// Pattern supports ":param" placeholders (matching a single path segment)
// and "*" as a trailing wildcard (matching the rest of the path).
func Path(pattern string) Predicate[subject.Request] {
	matcher := compilePathPattern(pattern)
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if matcher(s.Path) {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

type pathMatcher func(p string) bool

func compilePathPattern(pattern string) pathMatcher {
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	return func(p string) bool {
		if pattern == "*" {
			return true
		}
		segs := strings.Split(strings.Trim(path.Clean(p), "/"), "/")
		for i, ps := range patternSegs {
			if ps == "*" {
				return true
			}
			if i >= len(segs) {
				return false
			}
			if strings.HasPrefix(ps, ":") {
				continue
			}
			if ps != segs[i] {
				return false
			}
		}
		return len(segs) == len(patternSegs)
	}
}

// QueryExist builds a predicate requiring query parameter name to be present.
func QueryExist(name string) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if _, ok := s.Query[name]; ok {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// QueryEq builds a predicate requiring query parameter name to equal value.
func QueryEq(name, value string) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if s.Query.Get(name) == value {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// QueryIn builds a predicate requiring query parameter name's value to be
// one of values.
func QueryIn(name string, values ...string) Predicate[subject.Request] {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if _, ok := set[s.Query.Get(name)]; ok {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// HeaderExist builds a predicate requiring header name to be present.
func HeaderExist(name string) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if s.Header.Get(name) != "" {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// HeaderEq builds a predicate requiring header name to equal value.
func HeaderEq(name, value string) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if s.Header.Get(name) == value {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// HeaderIn builds a predicate requiring header name's value to be one of values.
func HeaderIn(name string, values ...string) Predicate[subject.Request] {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if _, ok := set[s.Header.Get(name)]; ok {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// HeaderContains builds a predicate requiring header name's value to contain substr.
func HeaderContains(name, substr string) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if strings.Contains(s.Header.Get(name), substr) {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// HeaderRegex builds a predicate requiring header name's value to match re.
func HeaderRegex(name string, re *regexp.Regexp) Predicate[subject.Request] {
	return Func[subject.Request](func(_ context.Context, s subject.Request) (Result[subject.Request], error) {
		if re.MatchString(s.Header.Get(name)) {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

// BodyOp is the comparison applied by a body predicate to the value
// extracted by its jq selector expression.
type BodyOp struct {
	Eq      any
	In      []any
	IsExist bool
	isEq    bool
	isIn    bool
}

// BodyEq builds a BodyOp requiring the selected value to equal v.
func BodyEq(v any) BodyOp { return BodyOp{Eq: v, isEq: true} }

// BodyIn builds a BodyOp requiring the selected value to be one of values.
func BodyIn(values ...any) BodyOp { return BodyOp{In: values, isIn: true} }

// BodyExist builds a BodyOp requiring the selected value to be non-null/present.
func BodyExist() BodyOp { return BodyOp{IsExist: true} }

// Body builds a request body predicate: it buffers the body (up to
// maxBytes, 0 meaning subject.DefaultMaxBodyBytes), parses it as JSON,
// evaluates the gojq selector expression, and applies op. The returned
// subject always carries the buffered (replayable) body regardless of
// outcome, per the body-predicate contract.
func Body(selectorExpr string, op BodyOp, maxBytes int) Predicate[subject.Request] {
	if maxBytes <= 0 {
		maxBytes = subject.DefaultMaxBodyBytes
	}
	query, err := gojq.Parse(selectorExpr)
	compileErr := err
	return Func[subject.Request](func(ctx context.Context, s subject.Request) (Result[subject.Request], error) {
		if compileErr != nil {
			return nonCacheable(s), nil
		}
		buffered := s.Body
		if buffered == nil || !buffered.Materialized {
			buffered = subject.Buffer(buffered, maxBytes)
		}
		s.Body = buffered
		if buffered.Err != nil {
			return nonCacheable(s), nil
		}
		var parsed any
		if err := json.Unmarshal(buffered.Bytes, &parsed); err != nil {
			return nonCacheable(s), nil
		}
		iter := query.RunWithContext(ctx, parsed)
		v, ok := iter.Next()
		if !ok {
			return nonCacheable(s), nil
		}
		if evalErr, isErr := v.(error); isErr {
			_ = evalErr
			return nonCacheable(s), nil
		}
		if evalBodyOp(op, v) {
			return cacheable(s), nil
		}
		return nonCacheable(s), nil
	})
}

func evalBodyOp(op BodyOp, v any) bool {
	switch {
	case op.isEq:
		return jsonEqual(op.Eq, v)
	case op.isIn:
		for _, want := range op.In {
			if jsonEqual(want, v) {
				return true
			}
		}
		return false
	case op.IsExist:
		return v != nil
	default:
		return false
	}
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
