package proxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/internal/proxy"
)

func TestReverseProxyForwardsToSingleTarget(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Echo", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer up.Close()

	target, err := url.Parse(up.URL)
	require.NoError(t, err)

	rp := proxy.NewReverseProxy(target)
	front := httptest.NewServer(rp)
	defer front.Close()

	resp, err := http.Get(front.URL + "/widgets")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "/widgets", resp.Header.Get("X-Upstream-Echo"))
}

func TestReverseProxyEnforcesAllowedMethods(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	target, err := url.Parse(up.URL)
	require.NoError(t, err)

	rp := proxy.NewReverseProxy(target)
	rp.SetAllowedMethods([]string{"GET"})
	front := httptest.NewServer(rp)
	defer front.Close()

	req, _ := http.NewRequest(http.MethodPost, front.URL+"/x", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
