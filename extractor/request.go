package extractor

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/felipecampolina/cachemw/cachekey"
	"github.com/felipecampolina/cachemw/subject"
)

// Method emits a ("method", verb) part.
func Method() Extractor[subject.Request] {
	return Func[subject.Request](func(_ context.Context, acc KeyParts[subject.Request]) (KeyParts[subject.Request], error) {
		acc.Parts = append(acc.Parts, cachekey.NewKeyPart("method", acc.Subject.Method))
		return acc, nil
	})
}

// Path matches the request path against pattern and emits one part per
// ":param" placeholder. If pattern is the literal "*", emits a single part
// containing the full path.
func Path(pattern string) Extractor[subject.Request] {
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	return Func[subject.Request](func(_ context.Context, acc KeyParts[subject.Request]) (KeyParts[subject.Request], error) {
		if pattern == "*" {
			acc.Parts = append(acc.Parts, cachekey.NewKeyPart("path", acc.Subject.Path))
			return acc, nil
		}
		reqSegs := strings.Split(strings.Trim(path.Clean(acc.Subject.Path), "/"), "/")
		for i, seg := range segs {
			if strings.HasPrefix(seg, ":") {
				name := strings.TrimPrefix(seg, ":")
				if i < len(reqSegs) {
					acc.Parts = append(acc.Parts, cachekey.NewKeyPart(name, reqSegs[i]))
				} else {
					acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(name))
				}
			}
		}
		return acc, nil
	})
}

// Header emits (name, value-or-nil).
func Header(name string) Extractor[subject.Request] {
	return Func[subject.Request](func(_ context.Context, acc KeyParts[subject.Request]) (KeyParts[subject.Request], error) {
		if v := acc.Subject.Header.Get(name); v != "" {
			acc.Parts = append(acc.Parts, cachekey.NewKeyPart(name, v))
		} else {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(name))
		}
		return acc, nil
	})
}

// Query emits (name, value-or-nil). When the parameter is repeated, values
// are joined in lexical order separated by ",".
func Query(name string) Extractor[subject.Request] {
	return Func[subject.Request](func(_ context.Context, acc KeyParts[subject.Request]) (KeyParts[subject.Request], error) {
		values := append([]string(nil), acc.Subject.Query[name]...)
		if len(values) == 0 {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(name))
			return acc, nil
		}
		sort.Strings(values)
		acc.Parts = append(acc.Parts, cachekey.NewKeyPart(name, strings.Join(values, ",")))
		return acc, nil
	})
}

// Body buffers the body (same rules as the body predicate), parses JSON,
// evaluates the jq expression, and emits (expression, extracted value).
// Non-scalar results use the value's JSON textual form; JSON null emits a
// nil key part.
func Body(jqExpr string, maxBytes int) Extractor[subject.Request] {
	if maxBytes <= 0 {
		maxBytes = subject.DefaultMaxBodyBytes
	}
	query, compileErr := gojq.Parse(jqExpr)
	return Func[subject.Request](func(ctx context.Context, acc KeyParts[subject.Request]) (KeyParts[subject.Request], error) {
		if compileErr != nil {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(jqExpr))
			return acc, nil
		}
		buffered := acc.Subject.Body
		if buffered == nil || !buffered.Materialized {
			buffered = subject.Buffer(buffered, maxBytes)
		}
		acc.Subject.Body = buffered
		if buffered.Err != nil {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(jqExpr))
			return acc, nil
		}
		var parsed any
		if err := json.Unmarshal(buffered.Bytes, &parsed); err != nil {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(jqExpr))
			return acc, nil
		}
		iter := query.RunWithContext(ctx, parsed)
		v, ok := iter.Next()
		if !ok {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(jqExpr))
			return acc, nil
		}
		if _, isErr := v.(error); isErr {
			acc.Parts = append(acc.Parts, cachekey.NewAbsentKeyPart(jqExpr))
			return acc, nil
		}
		acc.Parts = append(acc.Parts, scalarKeyPart(jqExpr, v))
		return acc, nil
	})
}

func scalarKeyPart(name string, v any) cachekey.KeyPart {
	if v == nil {
		return cachekey.NewAbsentKeyPart(name)
	}
	switch t := v.(type) {
	case string:
		return cachekey.NewKeyPart(name, t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return cachekey.NewAbsentKeyPart(name)
		}
		return cachekey.NewKeyPart(name, string(b))
	}
}
