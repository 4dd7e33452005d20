package didtdw

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONKeyOrder(t *testing.T) {
	assert := assert.New(t)

	a, err := canonicalJSON(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := canonicalJSON(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(string(a), string(b))
	assert.Equal(`{"a":2,"b":1}`, string(a))
}

func TestCanonicalJSONPreservesRawNumbers(t *testing.T) {
	assert := assert.New(t)

	// raw state bytes flow into canonicalization without a float round-trip
	var raw json.RawMessage = []byte(`{"n": 10, "m": 1e2}`)
	out, err := canonicalJSON(raw)
	require.NoError(t, err)
	assert.Equal(`{"m":100,"n":10}`, string(out))
}

func TestHasherDeterministic(t *testing.T) {
	assert := assert.New(t)

	h := DefaultHasher
	a, err := h.Sum([]byte("hello"))
	require.NoError(t, err)
	b, err := h.Sum([]byte("hello"))
	require.NoError(t, err)
	c, err := h.Sum([]byte("world"))
	require.NoError(t, err)

	assert.Equal(a, b)
	assert.NotEqual(a, c)
	assert.NotEmpty(a)
}

func TestHasherZeroValueDefaultsToSHA256(t *testing.T) {
	assert := assert.New(t)

	a, err := Hasher{}.Sum([]byte("hello"))
	require.NoError(t, err)
	b, err := DefaultHasher.Sum([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(a, b)
}

func TestHashKeyMatchesSum(t *testing.T) {
	assert := assert.New(t)

	mk := "z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
	a, err := DefaultHasher.HashKey(mk)
	require.NoError(t, err)
	b, err := DefaultHasher.Sum([]byte(mk))
	require.NoError(t, err)
	assert.Equal(a, b)
}
