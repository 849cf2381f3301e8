package httpcache

import (
	"bytes"
	"net/http"
)

// recorder implements http.ResponseWriter, buffering the handler's output so
// it can be classified by the response-predicate pipeline and, if cacheable,
// reduced to a CachedResponse before anything is written to the real client.
type recorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
	wroteHdr   bool
}

func newRecorder() *recorder {
	return &recorder{header: http.Header{}, statusCode: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHdr {
		return
	}
	r.statusCode = status
	r.wroteHdr = true
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHdr {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

func (r *recorder) result() *Response {
	return &Response{
		StatusCode: r.statusCode,
		Header:     sanitizeHeaders(r.header),
		Body:       append([]byte(nil), r.body.Bytes()...),
	}
}
