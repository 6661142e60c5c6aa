// Package hlc implements a Hybrid Logical Clock: a (physical, logical, actor)
// timestamp that provides a total order tracking wall time while remaining
// monotone under clock skew.
package hlc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WireSize is the fixed encoded length of a Timestamp: 8 bytes physical_ms,
// 4 bytes logical, 16 bytes actor_id.
const WireSize = 8 + 4 + 16

// Timestamp is a (physical_ms, logical, actor_id) triple. Zero value is the
// timestamp at the Unix epoch with a nil actor, which compares less than any
// timestamp carrying a tick.
type Timestamp struct {
	PhysicalMs uint64
	Logical    uint32
	ActorID    uuid.UUID
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater than
// other, ordering lexicographically on (PhysicalMs, Logical, ActorID).
func (t Timestamp) Compare(other Timestamp) int {
	if t.PhysicalMs != other.PhysicalMs {
		if t.PhysicalMs < other.PhysicalMs {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	return bytes.Compare(t.ActorID[:], other.ActorID[:])
}

// Less reports whether t orders strictly before other.
func (t Timestamp) Less(other Timestamp) bool { return t.Compare(other) < 0 }

// Bytes encodes the timestamp as WireSize big-endian bytes: this is the
// delta_id used to stamp a DocDelta on the wire.
func (t Timestamp) Bytes() []byte {
	out := make([]byte, WireSize)
	binary.BigEndian.PutUint64(out[0:8], t.PhysicalMs)
	binary.BigEndian.PutUint32(out[8:12], t.Logical)
	copy(out[12:28], t.ActorID[:])
	return out
}

// TimestampFromBytes decodes a WireSize-byte encoding produced by Bytes.
func TimestampFromBytes(b []byte) (Timestamp, error) {
	if len(b) != WireSize {
		return Timestamp{}, fmt.Errorf("hlc: timestamp must be %d bytes, got %d", WireSize, len(b))
	}
	var t Timestamp
	t.PhysicalMs = binary.BigEndian.Uint64(b[0:8])
	t.Logical = binary.BigEndian.Uint32(b[8:12])
	copy(t.ActorID[:], b[12:28])
	return t, nil
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.PhysicalMs, t.Logical, t.ActorID)
}

// Clock is a Hybrid Logical Clock bound to a single actor. It is safe for
// concurrent use; tick/update are infallible and non-blocking.
type Clock struct {
	mu      sync.Mutex
	last    Timestamp
	actorID uuid.UUID
	nowFn   func() uint64
}

// New creates a Clock for actorID. Initial state is the zero timestamp so
// the first Tick() advances to the current wall time.
func New(actorID uuid.UUID) *Clock {
	return &Clock{
		last:    Timestamp{ActorID: actorID},
		actorID: actorID,
		nowFn:   wallMs,
	}
}

func wallMs() uint64 { return uint64(time.Now().UnixMilli()) }

// Tick produces the next local timestamp, strictly greater than every prior
// value returned by Tick or Update on this clock.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if now > c.last.PhysicalMs {
		c.last.PhysicalMs = now
		c.last.Logical = 0
	} else if c.last.Logical == ^uint32(0) {
		// Logical counter saturated: advance physical by one rather than
		// stall or wrap.
		c.last.PhysicalMs++
		c.last.Logical = 0
	} else {
		c.last.Logical++
	}
	c.last.ActorID = c.actorID
	return c.last
}

// Update merges an observed remote timestamp into the clock, producing a
// value strictly greater than both the clock's prior state and recv.
func (c *Clock) Update(recv Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	switch {
	case now > c.last.PhysicalMs && now > recv.PhysicalMs:
		c.last.PhysicalMs = now
		c.last.Logical = 0
	case c.last.PhysicalMs == recv.PhysicalMs:
		if recv.Logical > c.last.Logical {
			c.last.Logical = recv.Logical
		}
		if c.last.Logical == ^uint32(0) {
			c.last.PhysicalMs++
			c.last.Logical = 0
		} else {
			c.last.Logical++
		}
	case recv.PhysicalMs > c.last.PhysicalMs:
		c.last.PhysicalMs = recv.PhysicalMs
		if recv.Logical == ^uint32(0) {
			c.last.PhysicalMs++
			c.last.Logical = 0
		} else {
			c.last.Logical = recv.Logical + 1
		}
	default:
		if c.last.Logical == ^uint32(0) {
			c.last.PhysicalMs++
			c.last.Logical = 0
		} else {
			c.last.Logical++
		}
	}
	c.last.ActorID = c.actorID
	return c.last
}

// Last returns the most recent timestamp produced, without advancing it.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// ActorID returns the actor this clock stamps timestamps with.
func (c *Clock) ActorID() uuid.UUID { return c.actorID }
