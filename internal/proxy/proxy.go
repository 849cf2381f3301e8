// Package proxy is the upstream-dialing layer: a single-target HTTP
// forwarder. It has no cache of its own — caching, cacheability rules, and
// request-ID minting live in httpcache, which wraps a ReverseProxy as the
// fsm upstream callable.
package proxy

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	imetrics "github.com/felipecampolina/cachemw/internal/metrics"
)

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

type ReverseProxy struct {
	target         *url.URL
	transport      *http.Transport
	allowedMethods map[string]struct{}
}

// NewReverseProxy builds a forwarder for a single upstream target.
func NewReverseProxy(target *url.URL) *ReverseProxy {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &ReverseProxy{target: target, transport: transport}
}

// SetAllowedMethods configures which HTTP methods are permitted (empty
// slice => allow all).
func (proxy *ReverseProxy) SetAllowedMethods(methods []string) {
	if len(methods) == 0 {
		proxy.allowedMethods = nil
		return
	}
	allowed := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		allowed[strings.ToUpper(strings.TrimSpace(method))] = struct{}{}
	}
	proxy.allowedMethods = allowed
}

func (proxy *ReverseProxy) listAllowedMethods() []string {
	if proxy.allowedMethods == nil {
		return nil
	}
	methods := make([]string, 0, len(proxy.allowedMethods))
	for method := range proxy.allowedMethods {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// ServeHTTP forwards the request verbatim to the configured target.
// Callers needing caching wrap a ReverseProxy with httpcache.Middleware;
// callers needing request logging/metrics wrap it with internal/logging.
func (proxy *ReverseProxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	startTime := time.Now()

	if req.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}

	if proxy.allowedMethods != nil {
		if _, ok := proxy.allowedMethods[req.Method]; !ok {
			if allow := proxy.listAllowedMethods(); len(allow) > 0 {
				w.Header().Set("Allow", strings.Join(allow, ", "))
			}
			imetrics.ObserveProxyResponse(req.Method, http.StatusMethodNotAllowed, "BYPASS", time.Since(startTime))
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
	}

	outboundReq := req.Clone(req.Context())
	proxy.directRequest(outboundReq, proxy.target)

	imetrics.IncProxyUpstreamInflight(proxy.target.Host)
	defer imetrics.DecProxyUpstreamInflight(proxy.target.Host)

	upstreamResp, err := proxy.transport.RoundTrip(outboundReq)
	if err != nil {
		status := http.StatusBadGateway
		if req.Context().Err() != nil {
			status = http.StatusRequestTimeout
		}
		imetrics.ObserveProxyUpstreamResponse(proxy.target.Host, req.Method, status, time.Since(startTime))
		imetrics.ObserveProxyResponse(req.Method, status, "BYPASS", time.Since(startTime))
		http.Error(w, err.Error(), status)
		return
	}
	defer upstreamResp.Body.Close()

	sanitized := sanitizeResponseHeaders(upstreamResp.Header)
	copyHeader(w.Header(), sanitized)
	w.WriteHeader(upstreamResp.StatusCode)
	_, _ = io.Copy(w, upstreamResp.Body)

	upstreamLabel := upstreamResp.Header.Get("X-Upstream")
	if strings.TrimSpace(upstreamLabel) == "" {
		upstreamLabel = proxy.target.Host
	}
	imetrics.ObserveProxyUpstreamResponse(upstreamLabel, req.Method, upstreamResp.StatusCode, time.Since(startTime))
	imetrics.ObserveProxyResponse(req.Method, upstreamResp.StatusCode, "MISS", time.Since(startTime))
}

// directRequest rewrites the request URL, path, and hop-by-hop headers
// before sending it to the target.
func (proxy *ReverseProxy) directRequest(outReq *http.Request, target *url.URL) {
	outReq.URL.Scheme = target.Scheme
	outReq.URL.Host = target.Host
	outReq.URL.Path = singleJoiningSlash(target.Path, outReq.URL.Path)

	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(outReq.RemoteAddr); err == nil && clientIP != "" {
		if xff := outReq.Header.Get("X-Forwarded-For"); xff == "" {
			outReq.Header.Set("X-Forwarded-For", clientIP)
		} else {
			outReq.Header.Set("X-Forwarded-For", xff+", "+clientIP)
		}
	}
	outReq.Header.Set("X-Forwarded-Proto", schemeOf(outReq))
	outReq.Header.Set("X-Forwarded-Host", outReq.Host)
	outReq.Host = target.Host
}

func schemeOf(req *http.Request) string {
	if req.TLS != nil {
		return "https"
	}
	if sch := req.Header.Get("X-Forwarded-Proto"); sch != "" {
		return sch
	}
	return "http"
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func sanitizeResponseHeaders(headers http.Header) http.Header {
	sanitized := make(http.Header, len(headers))
	for k, vv := range headers {
		for _, v := range vv {
			sanitized.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		sanitized.Del(h)
	}
	return sanitized
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}
