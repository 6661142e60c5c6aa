// Package wire implements the CBOR wire protocol and topic naming scheme for
// the replication bus: AgentHello, DocDelta, AntiEntropyRequest, and
// AntiEntropyResponse.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/aas-deltasync/agent/internal/hlc"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid CBOR encoding options: %v", err))
	}
	return mode
}()

// AgentHello announces an agent's presence and capabilities on the bus.
type AgentHello struct {
	AgentID      string   `cbor:"agent_id"`
	Capabilities []string `cbor:"capabilities"`
	ClockSummary []byte   `cbor:"clock_summary"`
	Version      string   `cbor:"version"`
}

// ToCBOR encodes the message.
func (h AgentHello) ToCBOR() ([]byte, error) { return encMode.Marshal(h) }

// AgentHelloFromCBOR decodes a message produced by ToCBOR.
func AgentHelloFromCBOR(b []byte) (AgentHello, error) {
	var h AgentHello
	if err := cbor.Unmarshal(b, &h); err != nil {
		return AgentHello{}, fmt.Errorf("wire: decode AgentHello: %w", err)
	}
	return h, nil
}

// DocDelta carries one CRDT delta for a document, stamped with the
// timestamp that produced it and optionally signed.
type DocDelta struct {
	DocID        string `cbor:"doc_id"`
	DeltaID      []byte `cbor:"delta_id"` // 28-byte encoded hlc.Timestamp
	DeltaPayload []byte `cbor:"delta_payload"`
	Signature    []byte `cbor:"signature,omitempty"`
}

// Timestamp decodes DeltaID back into an hlc.Timestamp.
func (d DocDelta) Timestamp() (hlc.Timestamp, error) {
	return hlc.TimestampFromBytes(d.DeltaID)
}

// ToCBOR encodes the message.
func (d DocDelta) ToCBOR() ([]byte, error) { return encMode.Marshal(d) }

// DocDeltaFromCBOR decodes a message produced by ToCBOR.
func DocDeltaFromCBOR(b []byte) (DocDelta, error) {
	var d DocDelta
	if err := cbor.Unmarshal(b, &d); err != nil {
		return DocDelta{}, fmt.Errorf("wire: decode DocDelta: %w", err)
	}
	return d, nil
}

// NewDocDelta builds a DocDelta from a timestamp and an already-CBOR-encoded
// delta payload.
func NewDocDelta(docID string, ts hlc.Timestamp, payload []byte) DocDelta {
	return DocDelta{DocID: docID, DeltaID: ts.Bytes(), DeltaPayload: payload}
}

// DeltaRange bounds an AntiEntropyRequest's want_range, both ends optional
// except From.
type DeltaRange struct {
	From []byte `cbor:"from"`
	To   []byte `cbor:"to,omitempty"`
}

// AntiEntropyRequest asks a peer for deltas this agent may be missing.
// HaveSummary's first 8 bytes are a big-endian physical_ms threshold: "I
// have everything at or before this wall time." Implementations MAY extend
// the remaining bytes to a per-actor vector without breaking wire
// compatibility (unknown trailing bytes are ignored by this decoder).
type AntiEntropyRequest struct {
	DocID       string      `cbor:"doc_id"`
	HaveSummary []byte      `cbor:"have_summary"`
	WantRange   *DeltaRange `cbor:"want_range,omitempty"`
}

// HaveSummaryThreshold decodes the big-endian physical_ms threshold from the
// first 8 bytes of HaveSummary.
func (r AntiEntropyRequest) HaveSummaryThreshold() (uint64, error) {
	if len(r.HaveSummary) < 8 {
		return 0, fmt.Errorf("wire: have_summary must be at least 8 bytes, got %d", len(r.HaveSummary))
	}
	return binary.BigEndian.Uint64(r.HaveSummary[:8]), nil
}

// EncodeHaveSummary encodes a physical_ms threshold as an 8-byte
// HaveSummary.
func EncodeHaveSummary(thresholdMs uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, thresholdMs)
	return b
}

// ToCBOR encodes the message.
func (r AntiEntropyRequest) ToCBOR() ([]byte, error) { return encMode.Marshal(r) }

// AntiEntropyRequestFromCBOR decodes a message produced by ToCBOR.
func AntiEntropyRequestFromCBOR(b []byte) (AntiEntropyRequest, error) {
	var r AntiEntropyRequest
	if err := cbor.Unmarshal(b, &r); err != nil {
		return AntiEntropyRequest{}, fmt.Errorf("wire: decode AntiEntropyRequest: %w", err)
	}
	return r, nil
}

// AntiEntropyResponse answers an AntiEntropyRequest with deltas, a snapshot,
// or both. A populated Snapshot takes precedence on apply.
type AntiEntropyResponse struct {
	DocID    string     `cbor:"doc_id"`
	Deltas   []DocDelta `cbor:"deltas"`
	Snapshot []byte     `cbor:"snapshot,omitempty"`
}

// ToCBOR encodes the message.
func (r AntiEntropyResponse) ToCBOR() ([]byte, error) { return encMode.Marshal(r) }

// AntiEntropyResponseFromCBOR decodes a message produced by ToCBOR.
func AntiEntropyResponseFromCBOR(b []byte) (AntiEntropyResponse, error) {
	var r AntiEntropyResponse
	if err := cbor.Unmarshal(b, &r); err != nil {
		return AntiEntropyResponse{}, fmt.Errorf("wire: decode AntiEntropyResponse: %w", err)
	}
	return r, nil
}
