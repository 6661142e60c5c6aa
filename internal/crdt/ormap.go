// Package crdt implements the Observed-Remove Map CRDT used as per-document
// state: a map of canonical submodel-element paths to last-writer-wins JSON
// values, with add-wins-on-equal-timestamp and remove-wins-on-strictly-newer
// semantics.
package crdt

import (
	"github.com/aas-deltasync/agent/internal/hlc"
)

// Value is an opaque JSON value carried by an LWW register. Equality for
// diffing purposes must be structural, not byte-for-byte, so callers should
// pass values produced by encoding/json.Unmarshal into `any` rather than
// raw JSON text.
type Value = any

// LWWRegister is a (value, timestamp) pair. Merge keeps the entry with the
// higher timestamp; ties are impossible since hlc.Timestamp's actor_id
// component makes the total order strict across distinct actors, and a
// single actor never produces two ticks with the same timestamp.
type LWWRegister struct {
	Value Value
	Ts    hlc.Timestamp
}

// MapEntry is a live OR-Map entry: a register plus its creation timestamp.
type MapEntry struct {
	Register  LWWRegister
	CreatedAt hlc.Timestamp
}

// OrMap is an Observed-Remove Map keyed by canonical path string. It carries
// live entries and per-key tombstones; a key is in at most one of the two
// except transiently during Merge.
type OrMap struct {
	entries    map[string]MapEntry
	tombstones map[string]hlc.Timestamp
}

// NewOrMap returns an empty OrMap.
func NewOrMap() *OrMap {
	return &OrMap{
		entries:    make(map[string]MapEntry),
		tombstones: make(map[string]hlc.Timestamp),
	}
}

// Insert upserts key with value at ts. If a tombstone for key is at least as
// new as ts, the insert is dropped (remove-wins). Otherwise any older
// tombstone is cleared and the entry is upserted via LWW.
func (m *OrMap) Insert(key string, value Value, ts hlc.Timestamp) {
	if tomb, ok := m.tombstones[key]; ok {
		if !tomb.Less(ts) {
			// Tombstone is equal to or newer than ts: insert is superseded.
			return
		}
		delete(m.tombstones, key)
	}

	createdAt := ts
	existing, has := m.entries[key]
	if has {
		if !existing.Register.Ts.Less(ts) {
			return
		}
		createdAt = existing.CreatedAt
	}
	m.entries[key] = MapEntry{
		Register:  LWWRegister{Value: value, Ts: ts},
		CreatedAt: createdAt,
	}
}

// Remove records a tombstone for key at ts (raised to the max of any prior
// tombstone) and deletes the live entry iff ts is strictly newer than the
// entry's timestamp: remove only wins against strictly older writes, so a
// concurrent insert at an equal-or-later timestamp survives.
func (m *OrMap) Remove(key string, ts hlc.Timestamp) {
	if prior, ok := m.tombstones[key]; !ok || prior.Less(ts) {
		m.tombstones[key] = ts
	}
	if entry, ok := m.entries[key]; ok && entry.Register.Ts.Less(ts) {
		delete(m.entries, key)
	}
}

// Get returns the live value at key, if any.
func (m *OrMap) Get(key string) (Value, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Register.Value, true
}

// Len returns the number of live entries.
func (m *OrMap) Len() int { return len(m.entries) }

// IsEmpty reports whether the map has no live entries.
func (m *OrMap) IsEmpty() bool { return len(m.entries) == 0 }

// Paths returns the canonical paths of all live entries, in no particular
// order.
func (m *OrMap) Paths() []string {
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

// Merge folds other into m: tombstones take the per-key max, entries merge
// via LWW, and any live entry whose timestamp is no newer than its tombstone
// is evicted. Merge is commutative, associative, and idempotent.
func (m *OrMap) Merge(other *OrMap) {
	for key, ts := range other.tombstones {
		if prior, ok := m.tombstones[key]; !ok || prior.Less(ts) {
			m.tombstones[key] = ts
		}
	}

	for key, entry := range other.entries {
		existing, ok := m.entries[key]
		if !ok || existing.Register.Ts.Less(entry.Register.Ts) {
			createdAt := entry.CreatedAt
			if ok && existing.CreatedAt.Less(createdAt) {
				createdAt = existing.CreatedAt
			}
			m.entries[key] = MapEntry{Register: entry.Register, CreatedAt: createdAt}
		}
	}

	for key, entry := range m.entries {
		if tomb, ok := m.tombstones[key]; ok && !tomb.Less(entry.Register.Ts) {
			delete(m.entries, key)
		}
	}
}

// CompactTombstones removes tombstones older than before. The caller MUST
// have proof that every peer's last-acked timestamp for this document is at
// least `before`; otherwise a late-arriving older insert could resurrect a
// key whose removal has been forgotten.
func (m *OrMap) CompactTombstones(before hlc.Timestamp) {
	for key, ts := range m.tombstones {
		if ts.Less(before) {
			delete(m.tombstones, key)
		}
	}
}

// InsertOp is one insertion recorded in a Delta.
type InsertOp struct {
	Key   string
	Value Value
	Ts    hlc.Timestamp
}

// RemoveOp is one removal recorded in a Delta.
type RemoveOp struct {
	Key string
	Ts  hlc.Timestamp
}

// Delta is a compact description of OR-Map mutations suitable for wire
// transmission.
type Delta struct {
	Inserts []InsertOp
	Removes []RemoveOp
}

// IsEmpty reports whether the delta carries no mutations.
func (d Delta) IsEmpty() bool { return len(d.Inserts) == 0 && len(d.Removes) == 0 }

// ApplyTo replays the delta's inserts then removes onto m.
func (d Delta) ApplyTo(m *OrMap) {
	for _, ins := range d.Inserts {
		m.Insert(ins.Key, ins.Value, ins.Ts)
	}
	for _, rem := range d.Removes {
		m.Remove(rem.Key, rem.Ts)
	}
}
