package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes committed envelopes and withdrawal rows to
// Postgres using multi-row INSERT. All writes are idempotent via
// ON CONFLICT clauses so a replayed batch is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in vault.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// WithdrawalRow represents a row in vault.withdrawals. Shares travel as
// a decimal string since supply can exceed int64.
type WithdrawalRow struct {
	WithdrawalID string
	Owner        string
	SharesBurned string
	DueAmount    int64
	FeeBps       int64
	RequestedAt  time.Time
	Settled      bool
	SettledAt    sql.NullTime
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of envelopes inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO vault.events
		(sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertWithdrawals writes withdrawal lifecycle rows inside the given
// transaction. A settled update wins over an earlier pending insert.
func (w *EventLogWriter) UpsertWithdrawals(ctx context.Context, tx *sql.Tx, rows []WithdrawalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.withdrawals
		(withdrawal_id, owner, shares_burned, due_amount, fee_bps, requested_at, settled, settled_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.WithdrawalID, r.Owner, r.SharesBurned, r.DueAmount,
			r.FeeBps, r.RequestedAt, r.Settled, r.SettledAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (withdrawal_id) DO UPDATE
		SET settled = EXCLUDED.settled, settled_at = EXCLUDED.settled_at`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
