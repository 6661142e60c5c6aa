package crdt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aas-deltasync/agent/internal/hlc"
)

var (
	actorA = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	actorB = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func ts(physical uint64, logical uint32, actor uuid.UUID) hlc.Timestamp {
	return hlc.Timestamp{PhysicalMs: physical, Logical: logical, ActorID: actor}
}

func TestOrMapBasicOperations(t *testing.T) {
	m := NewOrMap()
	assert.True(t, m.IsEmpty())

	m.Insert("Temp", 25.0, ts(1000, 0, actorA))
	v, ok := m.Get("Temp")
	require.True(t, ok)
	assert.Equal(t, 25.0, v)
	assert.Equal(t, 1, m.Len())

	m.Remove("Temp", ts(2000, 0, actorA))
	_, ok = m.Get("Temp")
	assert.False(t, ok)
	assert.True(t, m.IsEmpty())
}

func TestOrMapRemoveSupersedesOlderInsert(t *testing.T) {
	// An insert older than the tombstone stays superseded.
	m := NewOrMap()
	m.Insert("X", 1.0, ts(1000, 0, actorA))
	m.Remove("X", ts(2000, 0, actorA))
	m.Insert("X", 9.0, ts(1500, 0, actorA))

	_, ok := m.Get("X")
	assert.False(t, ok, "insert older than the tombstone must stay superseded")
}

func TestOrMapInsertAfterRemoveWins(t *testing.T) {
	// An insert newer than the tombstone revives the key.
	m := NewOrMap()
	m.Insert("X", 1.0, ts(1000, 0, actorA))
	m.Remove("X", ts(2000, 0, actorA))
	m.Insert("X", 9.0, ts(3000, 0, actorA))

	v, ok := m.Get("X")
	require.True(t, ok)
	assert.Equal(t, 9.0, v)
}

func TestOrMapConcurrentInsertConvergesOnHigherActor(t *testing.T) {
	// Same physical/logical on both writes, so the
	// strictly-greater actor id wins.
	a := NewOrMap()
	a.Insert("Temp", 25.0, ts(1000, 0, actorA))
	b := NewOrMap()
	b.Insert("Temp", 30.0, ts(1000, 0, actorB))

	a.Merge(b)
	b.Merge(a)

	va, _ := a.Get("Temp")
	vb, _ := b.Get("Temp")
	assert.Equal(t, 30.0, va)
	assert.Equal(t, 30.0, vb)
}

func TestOrMapMergeConvergence(t *testing.T) {
	// Merging in either order yields the same final state.
	buildA := func() *OrMap {
		m := NewOrMap()
		m.Insert("a", 1.0, ts(100, 0, actorA))
		m.Remove("b", ts(300, 0, actorA))
		return m
	}
	buildB := func() *OrMap {
		m := NewOrMap()
		m.Insert("b", 2.0, ts(200, 0, actorB))
		m.Insert("c", 3.0, ts(400, 0, actorB))
		return m
	}

	ab := buildA()
	ab.Merge(buildB())

	ba := buildB()
	ba.Merge(buildA())

	assert.ElementsMatch(t, ab.Paths(), ba.Paths())
	for _, k := range ab.Paths() {
		va, _ := ab.Get(k)
		vb, _ := ba.Get(k)
		assert.Equal(t, va, vb, k)
	}
}

func TestOrMapMergeIdempotent(t *testing.T) {
	a := NewOrMap()
	a.Insert("x", 1.0, ts(100, 0, actorA))

	b := NewOrMap()
	b.Insert("x", 2.0, ts(200, 0, actorB))

	a.Merge(b)
	before := a.Paths()
	vBefore, _ := a.Get("x")

	a.Merge(b)
	after := a.Paths()
	vAfter, _ := a.Get("x")

	assert.Equal(t, before, after)
	assert.Equal(t, vBefore, vAfter)
}

func TestOrMapCompactTombstones(t *testing.T) {
	m := NewOrMap()
	m.Insert("x", 1.0, ts(100, 0, actorA))
	m.Remove("x", ts(200, 0, actorA))

	m.CompactTombstones(ts(150, 0, actorA))
	assert.Contains(t, m.tombstones, "x")

	m.CompactTombstones(ts(250, 0, actorA))
	assert.NotContains(t, m.tombstones, "x")
}

func TestDeltaApply(t *testing.T) {
	m := NewOrMap()
	d := Delta{
		Inserts: []InsertOp{
			{Key: "a", Value: 1.0, Ts: ts(100, 0, actorA)},
			{Key: "b", Value: 2.0, Ts: ts(200, 0, actorA)},
		},
	}
	assert.False(t, d.IsEmpty())
	d.ApplyTo(m)

	va, _ := m.Get("a")
	vb, _ := m.Get("b")
	assert.Equal(t, 1.0, va)
	assert.Equal(t, 2.0, vb)

	remove := Delta{Removes: []RemoveOp{{Key: "a", Ts: ts(300, 0, actorA)}}}
	remove.ApplyTo(m)
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestDeltaEmpty(t *testing.T) {
	assert.True(t, Delta{}.IsEmpty())
}
