package adapter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/internal/hlc"
)

func TestHTTPSRequired(t *testing.T) {
	client := aasclient.New(aasclient.Config{BaseURL: "http://localhost:8081"})
	clock := hlc.New(uuid.New())

	_, err := NewPoller(client, "http://localhost:8081", PollerConfig{SubmodelID: "sm-1"}, clock, nil)
	assert.ErrorIs(t, err, ErrHTTPSRequired)
}

func TestHTTPSAccepted(t *testing.T) {
	client := aasclient.New(aasclient.Config{BaseURL: "https://localhost:8443"})
	clock := hlc.New(uuid.New())

	_, err := NewPoller(client, "https://localhost:8443", PollerConfig{SubmodelID: "sm-1"}, clock, nil)
	require.NoError(t, err)
}

func TestDiffScalarChange(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"a": 1.0, "b": 2.0}
	current := map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}

	changes := computeDiff("", prior, current, clock)

	byPath := map[string]Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	_, hasA := byPath["a"]
	assert.False(t, hasA, "unchanged key must not appear in the diff")

	require.Contains(t, byPath, "b")
	assert.Equal(t, ChangeInsert, byPath["b"].Kind)
	assert.Equal(t, 3.0, byPath["b"].Value)

	require.Contains(t, byPath, "c")
	assert.Equal(t, ChangeInsert, byPath["c"].Kind)
	assert.Equal(t, 4.0, byPath["c"].Value)

	for _, c := range changes {
		assert.NotEqual(t, ChangeRemove, c.Kind)
	}
}

func TestDiffKeyRemoved(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"a": 1.0, "b": 2.0}
	current := map[string]any{"a": 1.0}

	changes := computeDiff("", prior, current, clock)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRemove, changes[0].Kind)
	assert.Equal(t, "b", changes[0].Path)
}

func TestDiffKeyAdded(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"a": 1.0}
	current := map[string]any{"a": 1.0, "b": 2.0}

	changes := computeDiff("", prior, current, clock)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeInsert, changes[0].Kind)
	assert.Equal(t, "b", changes[0].Path)
}

func TestDiffNestedObject(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"Collection": map[string]any{"X": 1.0}}
	current := map[string]any{"Collection": map[string]any{"X": 2.0}}

	changes := computeDiff("", prior, current, clock)
	require.Len(t, changes, 1)
	assert.Equal(t, "Collection.X", changes[0].Path)
	assert.Equal(t, 2.0, changes[0].Value)
}

func TestFirstPollFlattensEveryLeaf(t *testing.T) {
	clock := hlc.New(uuid.New())
	current := map[string]any{"a": 1.0, "Collection": map[string]any{"X": 2.0}}

	changes := flattenInserts("", current, clock)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, ChangeInsert, c.Kind)
	}
}

func TestFirstPollFlattensArraysByIndex(t *testing.T) {
	clock := hlc.New(uuid.New())
	current := map[string]any{"Items": []any{10.0, 20.0}}

	changes := flattenInserts("", current, clock)
	byPath := map[string]Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Contains(t, byPath, "Items[0]")
	require.Contains(t, byPath, "Items[1]")
	assert.Equal(t, 10.0, byPath["Items[0]"].Value)
	assert.Equal(t, 20.0, byPath["Items[1]"].Value)
}

func TestDiffArrayElementChangeAndShrink(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"Items": []any{10.0, 20.0, 30.0}}
	current := map[string]any{"Items": []any{10.0, 25.0}}

	changes := computeDiff("", prior, current, clock)
	byPath := map[string]Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Contains(t, byPath, "Items[1]")
	assert.Equal(t, ChangeInsert, byPath["Items[1]"].Kind)
	assert.Equal(t, 25.0, byPath["Items[1]"].Value)
	require.Contains(t, byPath, "Items[2]")
	assert.Equal(t, ChangeRemove, byPath["Items[2]"].Kind)
	_, touchedFirst := byPath["Items[0]"]
	assert.False(t, touchedFirst, "unchanged element must not appear in the diff")
}

func TestDiffShapeChangeRetiresOldLeaves(t *testing.T) {
	clock := hlc.New(uuid.New())
	prior := map[string]any{"X": map[string]any{"a": 1.0, "b": 2.0}}
	current := map[string]any{"X": 5.0}

	changes := computeDiff("", prior, current, clock)
	byPath := map[string]Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Contains(t, byPath, "X.a")
	assert.Equal(t, ChangeRemove, byPath["X.a"].Kind)
	require.Contains(t, byPath, "X.b")
	assert.Equal(t, ChangeRemove, byPath["X.b"].Kind)
	require.Contains(t, byPath, "X")
	assert.Equal(t, ChangeInsert, byPath["X"].Kind)
	assert.Equal(t, 5.0, byPath["X"].Value)
}
