package cachekey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/cachekey"
)

func sampleKey() cachekey.CacheKey {
	return cachekey.New("api", 1, []cachekey.KeyPart{
		cachekey.NewKeyPart("method", "GET"),
		cachekey.NewAbsentKeyPart("bar"),
		cachekey.NewKeyPart("path", "/users/42"),
	})
}

func TestCacheKeyEqual(t *testing.T) {
	a := sampleKey()
	b := sampleKey()
	assert.True(t, a.Equal(b))

	c := cachekey.New("api", 2, a.Parts)
	assert.False(t, a.Equal(c))

	reordered := cachekey.New("api", 1, []cachekey.KeyPart{a.Parts[1], a.Parts[0], a.Parts[2]})
	assert.False(t, a.Equal(reordered), "part order is significant")
}

func TestUrlEncodedFormat(t *testing.T) {
	key := sampleKey()
	data, err := cachekey.UrlEncoded.Serialize(key)
	require.NoError(t, err)
	assert.Equal(t, "method=GET&bar&path=%2Fusers%2F42", string(data))

	_, err = cachekey.UrlEncoded.Deserialize(data)
	assert.ErrorIs(t, err, cachekey.ErrOneWayFormat)
}

func TestJsonRoundTrip(t *testing.T) {
	key := sampleKey()
	data, err := cachekey.Json.Serialize(key)
	require.NoError(t, err)

	got, err := cachekey.Json.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, key.Equal(got))
}

func TestBincodeRoundTrip(t *testing.T) {
	key := sampleKey()
	data, err := cachekey.Bincode.Serialize(key)
	require.NoError(t, err)

	got, err := cachekey.Bincode.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, key.Equal(got))
}

func TestBitcodeIsAliasOfBincode(t *testing.T) {
	key := sampleKey()
	bincodeData, err := cachekey.Bincode.Serialize(key)
	require.NoError(t, err)
	bitcodeData, err := cachekey.Bitcode.Serialize(key)
	require.NoError(t, err)
	assert.Equal(t, bincodeData, bitcodeData)
}

func TestKeyDeterminism(t *testing.T) {
	a := sampleKey()
	b := sampleKey()
	assert.Equal(t, a.String(), b.String())
}
