package extractor_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/extractor"
	"github.com/felipecampolina/cachemw/subject"
)

func TestChainOrderIsSignificant(t *testing.T) {
	req := subject.Request{Method: "GET", Path: "/users/42", Query: url.Values{}, Header: http.Header{}}

	orderA := extractor.Chain[subject.Request](extractor.Method(), extractor.Path("/users/:id"))
	orderB := extractor.Chain[subject.Request](extractor.Path("/users/:id"), extractor.Method())

	keyA, err := extractor.BuildKey(context.Background(), orderA, req, "api", 1)
	require.NoError(t, err)
	keyB, err := extractor.BuildKey(context.Background(), orderB, req, "api", 1)
	require.NoError(t, err)

	assert.False(t, keyA.Equal(keyB), "different extractor order must yield different keys")
}

func TestKeyDeterminism(t *testing.T) {
	req := subject.Request{Method: "GET", Path: "/users/42", Query: url.Values{"sort": {"b", "a"}}, Header: http.Header{"X-Tenant": {"acme"}}}
	chain := extractor.Chain[subject.Request](extractor.Method(), extractor.Path("/users/:id"), extractor.Query("sort"), extractor.Header("X-Tenant"))

	key1, err := extractor.BuildKey(context.Background(), chain, req, "api", 1)
	require.NoError(t, err)
	key2, err := extractor.BuildKey(context.Background(), chain, req, "api", 1)
	require.NoError(t, err)

	assert.True(t, key1.Equal(key2))
	assert.Equal(t, key1.String(), key2.String())
}

func TestQueryExtractorJoinsRepeatedValuesSorted(t *testing.T) {
	req := subject.Request{Query: url.Values{"tag": {"zeta", "alpha", "mu"}}, Header: http.Header{}}
	chain := extractor.Query("tag")
	key, err := extractor.BuildKey(context.Background(), chain, req, "api", 1)
	require.NoError(t, err)
	require.Len(t, key.Parts, 1)
	require.NotNil(t, key.Parts[0].Value)
	assert.Equal(t, "alpha,mu,zeta", *key.Parts[0].Value)
}

func TestPathExtractorAbsentWhenShort(t *testing.T) {
	req := subject.Request{Path: "/users", Query: url.Values{}, Header: http.Header{}}
	chain := extractor.Path("/users/:id")
	key, err := extractor.BuildKey(context.Background(), chain, req, "api", 1)
	require.NoError(t, err)
	require.Len(t, key.Parts, 1)
	assert.Nil(t, key.Parts[0].Value)
}

func TestBodyExtractorScalarAndNull(t *testing.T) {
	chain := extractor.Body(".id", 0)

	withID := subject.Request{Body: subject.NewBufferedBody([]byte(`{"id": 42}`))}
	key, err := extractor.BuildKey(context.Background(), chain, withID, "api", 1)
	require.NoError(t, err)
	require.NotNil(t, key.Parts[0].Value)
	assert.Equal(t, "42", *key.Parts[0].Value)

	withNull := subject.Request{Body: subject.NewBufferedBody([]byte(`{"id": null}`))}
	key, err = extractor.BuildKey(context.Background(), chain, withNull, "api", 1)
	require.NoError(t, err)
	assert.Nil(t, key.Parts[0].Value)
}
