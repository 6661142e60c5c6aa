package crdt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/aas-deltasync/agent/internal/hlc"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("crdt: invalid CBOR encoding options: %v", err))
	}
	return mode
}()

// wireInsertOp and wireRemoveOp mirror InsertOp/RemoveOp with the timestamp
// encoded as its 28-byte wire form, matching DocDelta.DeltaID elsewhere.
type wireInsertOp struct {
	Key   string `cbor:"key"`
	Value Value  `cbor:"value"`
	Ts    []byte `cbor:"ts"`
}

type wireRemoveOp struct {
	Key string `cbor:"key"`
	Ts  []byte `cbor:"ts"`
}

type wireDelta struct {
	Inserts []wireInsertOp `cbor:"inserts"`
	Removes []wireRemoveOp `cbor:"removes"`
}

// ToCBOR encodes a Delta for transmission as a DocDelta's delta_payload.
func (d Delta) ToCBOR() ([]byte, error) {
	w := wireDelta{
		Inserts: make([]wireInsertOp, len(d.Inserts)),
		Removes: make([]wireRemoveOp, len(d.Removes)),
	}
	for i, ins := range d.Inserts {
		w.Inserts[i] = wireInsertOp{Key: ins.Key, Value: ins.Value, Ts: ins.Ts.Bytes()}
	}
	for i, rem := range d.Removes {
		w.Removes[i] = wireRemoveOp{Key: rem.Key, Ts: rem.Ts.Bytes()}
	}
	return encMode.Marshal(w)
}

// DeltaFromCBOR decodes a Delta produced by ToCBOR.
func DeltaFromCBOR(b []byte) (Delta, error) {
	var w wireDelta
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Delta{}, fmt.Errorf("crdt: decode delta: %w", err)
	}
	d := Delta{
		Inserts: make([]InsertOp, len(w.Inserts)),
		Removes: make([]RemoveOp, len(w.Removes)),
	}
	for i, ins := range w.Inserts {
		ts, err := hlc.TimestampFromBytes(ins.Ts)
		if err != nil {
			return Delta{}, fmt.Errorf("crdt: decode delta insert %q: %w", ins.Key, err)
		}
		d.Inserts[i] = InsertOp{Key: ins.Key, Value: ins.Value, Ts: ts}
	}
	for i, rem := range w.Removes {
		ts, err := hlc.TimestampFromBytes(rem.Ts)
		if err != nil {
			return Delta{}, fmt.Errorf("crdt: decode delta remove %q: %w", rem.Key, err)
		}
		d.Removes[i] = RemoveOp{Key: rem.Key, Ts: ts}
	}
	return d, nil
}

type wireEntry struct {
	Key       string `cbor:"key"`
	Value     Value  `cbor:"value"`
	Ts        []byte `cbor:"ts"`
	CreatedAt []byte `cbor:"created_at"`
}

type wireTombstone struct {
	Key string `cbor:"key"`
	Ts  []byte `cbor:"ts"`
}

type wireSnapshot struct {
	Entries    []wireEntry     `cbor:"entries"`
	Tombstones []wireTombstone `cbor:"tombstones"`
}

// Snapshot encodes the full OrMap state (live entries and tombstones) for
// use as an AntiEntropyResponse.snapshot payload.
func (m *OrMap) Snapshot() ([]byte, error) {
	w := wireSnapshot{
		Entries:    make([]wireEntry, 0, len(m.entries)),
		Tombstones: make([]wireTombstone, 0, len(m.tombstones)),
	}
	for key, entry := range m.entries {
		w.Entries = append(w.Entries, wireEntry{
			Key:       key,
			Value:     entry.Register.Value,
			Ts:        entry.Register.Ts.Bytes(),
			CreatedAt: entry.CreatedAt.Bytes(),
		})
	}
	for key, ts := range m.tombstones {
		w.Tombstones = append(w.Tombstones, wireTombstone{Key: key, Ts: ts.Bytes()})
	}
	return encMode.Marshal(w)
}

// SnapshotFromCBOR decodes a full OrMap state produced by Snapshot.
func SnapshotFromCBOR(b []byte) (*OrMap, error) {
	var w wireSnapshot
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("crdt: decode snapshot: %w", err)
	}
	m := NewOrMap()
	for _, e := range w.Entries {
		ts, err := hlc.TimestampFromBytes(e.Ts)
		if err != nil {
			return nil, fmt.Errorf("crdt: decode snapshot entry %q: %w", e.Key, err)
		}
		createdAt, err := hlc.TimestampFromBytes(e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("crdt: decode snapshot entry %q created_at: %w", e.Key, err)
		}
		m.entries[e.Key] = MapEntry{Register: LWWRegister{Value: e.Value, Ts: ts}, CreatedAt: createdAt}
	}
	for _, t := range w.Tombstones {
		ts, err := hlc.TimestampFromBytes(t.Ts)
		if err != nil {
			return nil, fmt.Errorf("crdt: decode snapshot tombstone %q: %w", t.Key, err)
		}
		m.tombstones[t.Key] = ts
	}
	return m, nil
}
