// Package httpcache is the reference net/http adapter for the caching
// middleware: it adapts *http.Request/*http.Response to the FSM's generic
// Req/Res/Cached type parameters and exposes a net/http Middleware.
package httpcache

import "net/http"

// hopHeaders lists the headers RFC 7230 §6.1 forbids forwarding or caching
// verbatim across a hop.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Response is the live response type the FSM's Res type parameter is bound
// to: a fully-buffered response, so it can be written to the client, fed to
// a response predicate, and reduced to CachedResponse, all from one value.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// CachedResponse is the Cached projection of Response persisted to the
// backend: identical shape, kept as a distinct type so a future adapter
// (e.g. one that strips a field before persisting) has a seam to do so.
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// sanitizeHeaders returns a copy of headers with hop-by-hop headers removed,
// safe to both cache and forward to the client.
func sanitizeHeaders(headers http.Header) http.Header {
	sanitized := make(http.Header, len(headers))
	copyHeader(sanitized, headers)
	for _, h := range hopHeaders {
		sanitized.Del(h)
	}
	return sanitized
}

func toCached(r *Response) CachedResponse {
	return CachedResponse{StatusCode: r.StatusCode, Header: r.Header, Body: r.Body}
}

func fromCached(c CachedResponse) *Response {
	return &Response{StatusCode: c.StatusCode, Header: c.Header, Body: c.Body}
}
