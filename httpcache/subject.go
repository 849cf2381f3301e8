package httpcache

import (
	"net/http"

	"github.com/felipecampolina/cachemw/subject"
)

// toRequestSubject adapts *http.Request to subject.Request. The body, if
// present, is eagerly buffered (replayable) up to maxBodyBytes so the
// predicate and extractor pipelines can inspect it without consuming the
// stream the real handler will later read.
func toRequestSubject(maxBodyBytes int) func(*http.Request) subject.Request {
	return func(r *http.Request) subject.Request {
		s := subject.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header,
		}
		if r.Body != nil && r.Body != http.NoBody {
			s.Body = subject.Buffer(r.Body, maxBodyBytes)
		}
		return s
	}
}

// fromRequestSubject rebuilds *http.Request around the (possibly newly
// buffered) subject body, so downstream reads — by further predicates or by
// the real handler — see a fresh, replayable reader.
func fromRequestSubject(r *http.Request, s subject.Request) *http.Request {
	if s.Body != nil {
		s.Body.Reset()
		r.Body = s.Body
	}
	return r
}

// toResponseSubject adapts *Response to subject.Response for the
// response-predicate pipeline.
func toResponseSubject(r *Response) subject.Response {
	var body *subject.BufferedBody
	if r.Body != nil {
		body = subject.NewBufferedBody(r.Body)
	}
	return subject.Response{Status: r.StatusCode, Header: r.Header, Body: body}
}
