package crdt

import (
	"testing"

	"github.com/google/uuid"

	"github.com/aas-deltasync/agent/internal/hlc"
)

func tsAt(physical uint64, logical uint32, actor uuid.UUID) hlc.Timestamp {
	return hlc.Timestamp{PhysicalMs: physical, Logical: logical, ActorID: actor}
}

func TestDeltaCBORRoundTrip(t *testing.T) {
	actor := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	d := Delta{
		Inserts: []InsertOp{{Key: "Temp", Value: float64(25), Ts: tsAt(1000, 0, actor)}},
		Removes: []RemoveOp{{Key: "Old", Ts: tsAt(1001, 0, actor)}},
	}

	encoded, err := d.ToCBOR()
	if err != nil {
		t.Fatalf("ToCBOR: %v", err)
	}
	decoded, err := DeltaFromCBOR(encoded)
	if err != nil {
		t.Fatalf("DeltaFromCBOR: %v", err)
	}

	if len(decoded.Inserts) != 1 || decoded.Inserts[0].Key != "Temp" || decoded.Inserts[0].Value != float64(25) {
		t.Errorf("unexpected inserts: %+v", decoded.Inserts)
	}
	if decoded.Inserts[0].Ts != d.Inserts[0].Ts {
		t.Errorf("insert timestamp mismatch: got %v, want %v", decoded.Inserts[0].Ts, d.Inserts[0].Ts)
	}
	if len(decoded.Removes) != 1 || decoded.Removes[0].Key != "Old" {
		t.Errorf("unexpected removes: %+v", decoded.Removes)
	}
}

func TestOrMapSnapshotRoundTrip(t *testing.T) {
	actor := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	m := NewOrMap()
	m.Insert("Live", "value-a", tsAt(1000, 0, actor))
	m.Insert("Gone", "value-b", tsAt(1000, 0, actor))
	m.Remove("Gone", tsAt(2000, 0, actor))

	encoded, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored, err := SnapshotFromCBOR(encoded)
	if err != nil {
		t.Fatalf("SnapshotFromCBOR: %v", err)
	}

	if restored.Len() != 1 {
		t.Fatalf("expected 1 live entry after restore, got %d", restored.Len())
	}
	v, ok := restored.Get("Live")
	if !ok || v != "value-a" {
		t.Errorf("expected Live=value-a, got %v (ok=%v)", v, ok)
	}
	if _, ok := restored.Get("Gone"); ok {
		t.Error("expected Gone to remain tombstoned after restore")
	}

	// A late re-insert of Gone at an older timestamp must still be rejected,
	// proving the tombstone itself (not just the missing entry) survived.
	restored.Insert("Gone", "resurrected", tsAt(1500, 0, actor))
	if _, ok := restored.Get("Gone"); ok {
		t.Error("tombstone did not survive snapshot round-trip")
	}
}
