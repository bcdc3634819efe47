package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"StableLend/internal/observability"
	"StableLend/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot carries the full ledger aggregate, the governance parameters,
// the sequence counter, and the hash-chain tip.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence  int64                 `json:"sequence"`
	StateHash []byte                `json:"state_hash"`
	Ledger    *state.LedgerSnapshot `json:"ledger"`
	// Params are WAD decimal strings keyed by parameter name.
	Params    map[string]string `json:"params"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are the only
// recovery source, so one is taken on every graceful shutdown as well as
// periodically.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO lend_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return err
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// (nil, nil) when no snapshot exists: cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM lend_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE lend_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// GetLatestSequence returns the highest sequence in the event log. The bool
// is false when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, bool, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, false, err
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return seq.Int64, true, nil
}
