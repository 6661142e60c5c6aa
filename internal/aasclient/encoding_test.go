package aasclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDBase64URLRoundTrip(t *testing.T) {
	cases := []string{
		"urn:example:sm:data",
		"urn:example:with+plus/and/slashes",
		"a b c",
	}
	for _, id := range cases {
		encoded := EncodeIDBase64URL(id)
		assert.NotContains(t, encoded, "=")
		assert.NotContains(t, encoded, "+")
		assert.NotContains(t, encoded, "/")

		decoded, err := DecodeIDBase64URL(encoded)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestIDShortPathRoundTrip(t *testing.T) {
	cases := []string{
		"Temperature",
		"Collection.SubProperty",
		"Items[el-1].Value",
		"Weird Name With Spaces",
	}
	for _, p := range cases {
		encoded := EncodeIDShortPath(p)
		decoded, err := DecodeIDShortPath(encoded)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestIDShortPathPreservesBrackets(t *testing.T) {
	encoded := EncodeIDShortPath("Items[el-1]")
	assert.Contains(t, encoded, "[")
	assert.Contains(t, encoded, "]")
}

func TestIDShortPathEscapesSlash(t *testing.T) {
	encoded := EncodeIDShortPath("a/b")
	assert.NotContains(t, encoded, "/")
}
