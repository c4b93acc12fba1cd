package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager creates and loads state snapshots for recovery.
// Snapshots hold the full vault state: share balances, local cash,
// remote positions, oracle readings, the withdrawal queue, bridge
// epoch counters, sequence partitions, and recent idempotency keys.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of the engine's state.
// Big values (shares) travel as decimal strings.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`
	Paused    bool   `json:"paused"`

	Balances    map[string]string `json:"balances"` // owner -> shares raw
	TotalShares string            `json:"total_shares"`
	Cash        int64             `json:"cash"`

	RemotePositions map[string]int64 `json:"remote_positions"` // asset id -> amount
	RemoteFunding   int64            `json:"remote_funding"`

	Readings []ReadingSnap    `json:"readings"`
	Queue    []WithdrawalSnap `json:"queue"`

	EpochStartUs     int64 `json:"epoch_start_us"`
	EpochTransferred int64 `json:"epoch_transferred"`
	PendingDeploy    int64 `json:"pending_deploy"`
	PendingRecall    int64 `json:"pending_recall"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ReadingSnap is a serializable oracle reading.
type ReadingSnap struct {
	AssetID      uint16 `json:"asset_id"`
	Price        int64  `json:"price"`
	ObservedAtUs int64  `json:"observed_at_us"`
	Version      int64  `json:"version"`
}

// WithdrawalSnap is a serializable queued withdrawal.
type WithdrawalSnap struct {
	WithdrawalID  string `json:"withdrawal_id"`
	Owner         string `json:"owner"`
	SharesBurned  string `json:"shares_burned"`
	DueAmount     int64  `json:"due_amount"`
	FeeBps        int64  `json:"fee_bps"`
	RequestedAtUs int64  `json:"requested_at_us"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Saving twice at the
// same sequence replaces the stored data.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the event log is replayed from snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot, cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE vault.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM vault.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM vault.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // empty event log
	}
	return seq.Int64, nil
}
