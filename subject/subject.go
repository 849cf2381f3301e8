// Package subject defines the request/response "subject" types that flow
// through the predicate and extractor pipelines, including the buffered-body
// abstraction body predicates and extractors rebuild around a replayable
// byte slice.
package subject

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
)

// DefaultMaxBodyBytes is the default body-predicate/extractor buffering
// ceiling (10 KiB) per spec.
const DefaultMaxBodyBytes = 10 * 1024

// BodyError is recorded on a BufferedBody when body buffering exceeds the
// configured maximum (TooLarge) or the read fails (Cause). It is not returned as a hard error: predicates treat
// it as NonCacheable.
type BodyError struct {
	TooLarge bool
	Cause    error
}

func (e *BodyError) Error() string {
	if e == nil {
		return ""
	}
	if e.TooLarge {
		return "subject: body exceeds maximum buffered size"
	}
	if e.Cause != nil {
		return "subject: body read error: " + e.Cause.Error()
	}
	return "subject: body error"
}

// BufferedBody is a fully-materialized, replayable request/response body.
// It implements io.ReadCloser so it drops into net/http's body interface.
type BufferedBody struct {
	Bytes        []byte
	Materialized bool
	Err          *BodyError

	reader *bytes.Reader
}

// NewBufferedBody wraps already-collected bytes.
func NewBufferedBody(data []byte) *BufferedBody {
	return &BufferedBody{Bytes: data, Materialized: true, reader: bytes.NewReader(data)}
}

// Buffer reads up to maxBytes+1 from r and returns a BufferedBody. If the
// stream contains more than maxBytes, BodyError.TooLarge is set and Bytes
// holds only the truncated prefix read so far (callers MUST treat a
// TooLarge body as NonCacheable, not as partial data to cache).
func Buffer(r io.Reader, maxBytes int) *BufferedBody {
	if r == nil {
		return NewBufferedBody(nil)
	}
	limited := io.LimitReader(r, int64(maxBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return &BufferedBody{Materialized: true, Err: &BodyError{Cause: err}}
	}
	if len(data) > maxBytes {
		return &BufferedBody{Bytes: data[:maxBytes], Materialized: true, Err: &BodyError{TooLarge: true}}
	}
	return NewBufferedBody(data)
}

// Read implements io.Reader, replaying Bytes from the start of the
// underlying reader's current position.
func (b *BufferedBody) Read(p []byte) (int, error) {
	if b.reader == nil {
		b.reader = bytes.NewReader(b.Bytes)
	}
	return b.reader.Read(p)
}

// Close implements io.Closer as a no-op (the body is already fully in memory).
func (b *BufferedBody) Close() error { return nil }

// Reset rewinds the replay cursor to the beginning, so the body can be read
// again by a downstream consumer (e.g. the upstream call, or re-evaluation
// by a later predicate).
func (b *BufferedBody) Reset() {
	b.reader = bytes.NewReader(b.Bytes)
}

// Request is the subject type the request-predicate and extractor pipelines
// operate over. It is intentionally transport-framework-neutral; the
// httpcache package adapts *http.Request to/from it.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   *BufferedBody
}

// Response is the subject type the response-predicate pipeline operates
// over.
type Response struct {
	Status int
	Header http.Header
	Body   *BufferedBody
}
