package httpcache

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felipecampolina/cachemw/predicate"
	"github.com/felipecampolina/cachemw/subject"
)

// parseCacheControl splits a Cache-Control header into a lowercase directive
// map; values are unquoted when present (e.g. max-age=60).
func parseCacheControl(headerValue string) map[string]string {
	directives := make(map[string]string)
	if headerValue == "" {
		return directives
	}
	for _, segment := range strings.Split(headerValue, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kv := strings.SplitN(segment, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 2 {
			directives[key] = strings.Trim(kv[1], "\" ")
		} else {
			directives[key] = ""
		}
	}
	return directives
}

// DefaultRequestPredicate implements the reference adapter's request
// cacheability rule: a client "no-store"/"no-cache"/Pragma: no-cache bypasses
// caching outright, and an authenticated request is only cacheable when
// explicitly marked Cache-Control: public.
func DefaultRequestPredicate() predicate.Predicate[subject.Request] {
	return predicate.Func[subject.Request](func(_ context.Context, s subject.Request) (predicate.Result[subject.Request], error) {
		directives := parseCacheControl(s.Header.Get("Cache-Control"))
		if _, ok := directives["no-store"]; ok {
			return predicate.Result[subject.Request]{Outcome: predicate.NonCacheable, Subject: s}, nil
		}
		if _, ok := directives["no-cache"]; ok {
			return predicate.Result[subject.Request]{Outcome: predicate.NonCacheable, Subject: s}, nil
		}
		if strings.EqualFold(s.Header.Get("Pragma"), "no-cache") {
			return predicate.Result[subject.Request]{Outcome: predicate.NonCacheable, Subject: s}, nil
		}
		if s.Header.Get("Authorization") != "" {
			if _, public := directives["public"]; !public {
				return predicate.Result[subject.Request]{Outcome: predicate.NonCacheable, Subject: s}, nil
			}
		}
		return predicate.Result[subject.Request]{Outcome: predicate.Cacheable, Subject: s}, nil
	})
}

// defaultCacheableStatuses mirrors the reference adapter's cacheable status
// allowlist.
var defaultCacheableStatuses = map[int]struct{}{
	200: {}, 203: {}, 204: {}, 300: {}, 301: {}, 404: {}, 410: {},
}

// DefaultResponsePredicate implements the reference adapter's response
// cacheability rule: only a fixed set of statuses are eligible, and
// Cache-Control: no-store vetoes storage outright. It does not itself decide
// TTL — ResponseTTL does that — it only gates whether writeback happens at
// all.
func DefaultResponsePredicate() predicate.Predicate[subject.Response] {
	return predicate.Func[subject.Response](func(_ context.Context, s subject.Response) (predicate.Result[subject.Response], error) {
		if _, ok := defaultCacheableStatuses[s.Status]; !ok {
			return predicate.Result[subject.Response]{Outcome: predicate.NonCacheable, Subject: s}, nil
		}
		directives := parseCacheControl(s.Header.Get("Cache-Control"))
		if _, noStore := directives["no-store"]; noStore {
			return predicate.Result[subject.Response]{Outcome: predicate.NonCacheable, Subject: s}, nil
		}
		return predicate.Result[subject.Response]{Outcome: predicate.Cacheable, Subject: s}, nil
	})
}

// ResponseTTL derives a cache TTL from a response's Cache-Control/Expires
// headers, preferring s-maxage over max-age, falling back to Expires, and
// finally to fallback when the response carries no freshness directive.
func ResponseTTL(header http.Header, fallback time.Duration) time.Duration {
	directives := parseCacheControl(header.Get("Cache-Control"))
	if sMaxAge, ok := directives["s-maxage"]; ok {
		if secs, err := strconv.Atoi(sMaxAge); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if maxAge, ok := directives["max-age"]; ok {
		if secs, err := strconv.Atoi(maxAge); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if expires := header.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return fallback
}
