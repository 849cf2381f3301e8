package predicate

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/felipecampolina/cachemw/subject"
)

func respCacheable(s subject.Response) Result[subject.Response] {
	return Result[subject.Response]{Outcome: Cacheable, Subject: s}
}

func respNonCacheable(s subject.Response) Result[subject.Response] {
	return Result[subject.Response]{Outcome: NonCacheable, Subject: s}
}

// StatusEq builds a response predicate requiring an exact status code.
func StatusEq(code int) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if s.Status == code {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// StatusIn builds a response predicate requiring the status to be one of codes.
func StatusIn(codes ...int) Predicate[subject.Response] {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if _, ok := set[s.Status]; ok {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// StatusRange builds a response predicate requiring lo <= status <= hi.
func StatusRange(lo, hi int) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if s.Status >= lo && s.Status <= hi {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// StatusClass builds a response predicate requiring the status to belong to
// the given HTTP class: one of 1, 2, 3, 4, 5 (for 1xx..5xx).
func StatusClass(class int) Predicate[subject.Response] {
	lo, hi := class*100, class*100+99
	return StatusRange(lo, hi)
}

// RespHeaderExist builds a response predicate requiring header name to be present.
func RespHeaderExist(name string) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if s.Header.Get(name) != "" {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// RespHeaderEq builds a response predicate requiring header name to equal value.
func RespHeaderEq(name, value string) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if s.Header.Get(name) == value {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// RespHeaderIn builds a response predicate requiring header name's value to
// be one of values.
func RespHeaderIn(name string, values ...string) Predicate[subject.Response] {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if _, ok := set[s.Header.Get(name)]; ok {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// RespHeaderContains builds a response predicate requiring header name's
// value to contain substr.
func RespHeaderContains(name, substr string) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if strings.Contains(s.Header.Get(name), substr) {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// RespHeaderRegex builds a response predicate requiring header name's value
// to match re.
func RespHeaderRegex(name string, re *regexp.Regexp) Predicate[subject.Response] {
	return Func[subject.Response](func(_ context.Context, s subject.Response) (Result[subject.Response], error) {
		if re.MatchString(s.Header.Get(name)) {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}

// RespBody builds a response body predicate, mirroring the request Body
// predicate's buffering/JQ/op contract exactly.
func RespBody(selectorExpr string, op BodyOp, maxBytes int) Predicate[subject.Response] {
	if maxBytes <= 0 {
		maxBytes = subject.DefaultMaxBodyBytes
	}
	query, err := gojq.Parse(selectorExpr)
	compileErr := err
	return Func[subject.Response](func(ctx context.Context, s subject.Response) (Result[subject.Response], error) {
		if compileErr != nil {
			return respNonCacheable(s), nil
		}
		buffered := s.Body
		if buffered == nil || !buffered.Materialized {
			buffered = subject.Buffer(buffered, maxBytes)
		}
		s.Body = buffered
		if buffered.Err != nil {
			return respNonCacheable(s), nil
		}
		var parsed any
		if err := json.Unmarshal(buffered.Bytes, &parsed); err != nil {
			return respNonCacheable(s), nil
		}
		iter := query.RunWithContext(ctx, parsed)
		v, ok := iter.Next()
		if !ok {
			return respNonCacheable(s), nil
		}
		if evalErr, isErr := v.(error); isErr {
			_ = evalErr
			return respNonCacheable(s), nil
		}
		if evalBodyOp(op, v) {
			return respCacheable(s), nil
		}
		return respNonCacheable(s), nil
	})
}
