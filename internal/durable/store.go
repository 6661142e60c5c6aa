// Package durable implements the embedded SQL durable log: append-only
// deltas, a latest snapshot per document, and per-peer replication progress.
package durable

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS delta_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	delta_id BLOB NOT NULL,
	delta_bytes BLOB NOT NULL,
	actor_id TEXT NOT NULL,
	hlc_ts INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(doc_id, delta_id)
);
CREATE INDEX IF NOT EXISTS idx_delta_log_doc_id ON delta_log(doc_id);
CREATE INDEX IF NOT EXISTS idx_delta_log_hlc_ts ON delta_log(hlc_ts);

CREATE TABLE IF NOT EXISTS doc_snapshots (
	doc_id TEXT PRIMARY KEY,
	snapshot_bytes BLOB NOT NULL,
	snapshot_clock BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_progress (
	peer_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	last_ack_delta_id BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (peer_id, doc_id)
);
`

// ErrTimestampOverflow is returned when an hlc_ts value exceeds what SQLite's
// signed 64-bit integer column can represent without truncation.
var ErrTimestampOverflow = errors.New("durable: hlc timestamp exceeds int64 range")

// Store is the embedded SQL durable log. A single Store is intended to be
// used by exactly one agent process; all writes are serialized by the
// underlying *sql.DB connection pool, giving single-writer semantics without
// an explicit application-level lock.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// toInt64 converts an hlc physical_ms value to the signed column type,
// failing rather than silently truncating an adversarially large clock.
func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrTimestampOverflow
	}
	return int64(v), nil
}

// DeltaRecord is one row of the delta_log.
type DeltaRecord struct {
	DocID      string
	DeltaID    []byte
	DeltaBytes []byte
	ActorID    string
	HlcTs      uint64
	CreatedAt  int64
}

// SaveDelta idempotently appends a delta: re-saving an identical
// (doc_id, delta_id) pair leaves exactly one row, with delta_bytes
// refreshed in case of a resend.
func (s *Store) SaveDelta(docID string, deltaID, deltaBytes []byte, actorID string, hlcTs uint64, createdAt int64) error {
	hlcTsInt, err := toInt64(hlcTs)
	if err != nil {
		return fmt.Errorf("durable: save delta for %s: %w", docID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO delta_log (doc_id, delta_id, delta_bytes, actor_id, hlc_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, delta_id) DO UPDATE SET delta_bytes = excluded.delta_bytes
	`, docID, deltaID, deltaBytes, actorID, hlcTsInt, createdAt)
	if err != nil {
		return fmt.Errorf("durable: save delta for %s: %w", docID, err)
	}
	return nil
}

// GetDeltasAfter returns deltas for docID with hlc_ts strictly greater than
// afterHlcTs, ordered ascending by hlc_ts.
func (s *Store) GetDeltasAfter(docID string, afterHlcTs uint64) ([]DeltaRecord, error) {
	afterInt, err := toInt64(afterHlcTs)
	if err != nil {
		return nil, fmt.Errorf("durable: get deltas after for %s: %w", docID, err)
	}
	rows, err := s.db.Query(`
		SELECT doc_id, delta_id, delta_bytes, actor_id, hlc_ts, created_at
		FROM delta_log
		WHERE doc_id = ? AND hlc_ts > ?
		ORDER BY hlc_ts ASC
	`, docID, afterInt)
	if err != nil {
		return nil, fmt.Errorf("durable: get deltas after for %s: %w", docID, err)
	}
	defer rows.Close()

	var out []DeltaRecord
	for rows.Next() {
		var rec DeltaRecord
		var hlcTsInt int64
		if err := rows.Scan(&rec.DocID, &rec.DeltaID, &rec.DeltaBytes, &rec.ActorID, &hlcTsInt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("durable: scan delta row: %w", err)
		}
		rec.HlcTs = uint64(hlcTsInt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CompactDeltasBefore deletes deltas for docID with hlc_ts strictly less
// than beforeHlcTs. The caller must ensure a snapshot at or after
// beforeHlcTs has already been saved.
func (s *Store) CompactDeltasBefore(docID string, beforeHlcTs uint64) error {
	beforeInt, err := toInt64(beforeHlcTs)
	if err != nil {
		return fmt.Errorf("durable: compact deltas for %s: %w", docID, err)
	}
	_, err = s.db.Exec(`DELETE FROM delta_log WHERE doc_id = ? AND hlc_ts < ?`, docID, beforeInt)
	if err != nil {
		return fmt.Errorf("durable: compact deltas for %s: %w", docID, err)
	}
	return nil
}

// SaveSnapshot overwrites the latest snapshot for docID.
func (s *Store) SaveSnapshot(docID string, snapshotBytes, snapshotClock []byte, createdAt int64) error {
	_, err := s.db.Exec(`
		INSERT INTO doc_snapshots (doc_id, snapshot_bytes, snapshot_clock, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			snapshot_bytes = excluded.snapshot_bytes,
			snapshot_clock = excluded.snapshot_clock,
			created_at = excluded.created_at
	`, docID, snapshotBytes, snapshotClock, createdAt)
	if err != nil {
		return fmt.Errorf("durable: save snapshot for %s: %w", docID, err)
	}
	return nil
}

// Snapshot is a stored doc_snapshots row.
type Snapshot struct {
	DocID         string
	SnapshotBytes []byte
	SnapshotClock []byte
	CreatedAt     int64
}

// GetSnapshot returns the latest snapshot for docID, if any.
func (s *Store) GetSnapshot(docID string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT doc_id, snapshot_bytes, snapshot_clock, created_at
		FROM doc_snapshots WHERE doc_id = ?
	`, docID)
	var snap Snapshot
	if err := row.Scan(&snap.DocID, &snap.SnapshotBytes, &snap.SnapshotClock, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("durable: get snapshot for %s: %w", docID, err)
	}
	return &snap, nil
}

// UpdatePeerProgress records the last delta_id a peer is known to have
// acknowledged for docID.
func (s *Store) UpdatePeerProgress(peerID, docID string, lastAckDeltaID []byte, updatedAt int64) error {
	_, err := s.db.Exec(`
		INSERT INTO peer_progress (peer_id, doc_id, last_ack_delta_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(peer_id, doc_id) DO UPDATE SET
			last_ack_delta_id = excluded.last_ack_delta_id,
			updated_at = excluded.updated_at
	`, peerID, docID, lastAckDeltaID, updatedAt)
	if err != nil {
		return fmt.Errorf("durable: update peer progress for %s/%s: %w", peerID, docID, err)
	}
	return nil
}

// PeerProgress is a stored peer_progress row.
type PeerProgress struct {
	PeerID         string
	DocID          string
	LastAckDeltaID []byte
	UpdatedAt      int64
}

// GetPeerProgress returns the recorded progress for (peerID, docID), if any.
func (s *Store) GetPeerProgress(peerID, docID string) (*PeerProgress, error) {
	row := s.db.QueryRow(`
		SELECT peer_id, doc_id, last_ack_delta_id, updated_at
		FROM peer_progress WHERE peer_id = ? AND doc_id = ?
	`, peerID, docID)
	var p PeerProgress
	if err := row.Scan(&p.PeerID, &p.DocID, &p.LastAckDeltaID, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("durable: get peer progress for %s/%s: %w", peerID, docID, err)
	}
	return &p, nil
}
