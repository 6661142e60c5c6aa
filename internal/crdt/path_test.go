package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPathRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"Temperature",
		"Collection.SubProperty",
		"Items[el-1]",
		"Items[el-1].Value",
		"A.B[xyz].C.D[42]",
	}
	for _, s := range cases {
		parsed, err := ParsePath(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, parsed.String(), s)
	}
}

func TestCanonicalPathWithListElement(t *testing.T) {
	parsed, err := ParsePath("Items[el-1].Value")
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "Items", parsed[0].IDShort)
	assert.Equal(t, "el-1", parsed[0].ElementID)
	assert.True(t, parsed[0].HasElement())
	assert.Equal(t, "Value", parsed[1].IDShort)
	assert.False(t, parsed[1].HasElement())
}

func TestParsePathRejectsUnterminatedBracket(t *testing.T) {
	_, err := ParsePath("Items[el-1")
	assert.Error(t, err)
}

func TestParsePathRejectsEmptyElementID(t *testing.T) {
	_, err := ParsePath("Items[]")
	assert.Error(t, err)
}

func TestPathBuilders(t *testing.T) {
	root := CanonicalPath{}
	p := root.Child("Collection").ListElement("Items", "el-9").Child("Value")
	assert.Equal(t, "Collection.Items[el-9].Value", p.String())
}
