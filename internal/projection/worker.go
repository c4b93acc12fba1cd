package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"VaultEngine/internal/observability"
)

// Update is one applied operation in the shape the projection tables
// consume. The daemon bridges engine outputs into this.
type Update struct {
	Sequence  int64
	EventType string
	Timestamp time.Time

	// Post-operation valuation, 1e18 fixed-point decimal strings.
	// Empty NAV/PPS means the oracle could not price the book yet.
	NAV         string
	PPS         string
	TotalShares string

	Withdrawals []WithdrawalStatus
}

// WithdrawalStatus is the queryable lifecycle row for one request.
type WithdrawalStatus struct {
	WithdrawalID string
	Owner        string
	DueAmount    int64
	FeeBps       int64
	Settled      bool
}

// Worker maintains query-friendly tables from the engine's projection
// channel. The channel drops on overflow, so every write here is an
// idempotent upsert and the tables can always be rebuilt.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Update
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Update, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log.With().Str("component", "projection").Logger(),
	}
}

// Run drains the input channel until it closes or the context ends.
// A failed update is logged and skipped: projections are eventually
// consistent and Rebuild recovers them.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, u); err != nil {
				w.log.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
				continue
			}
			w.lastSeq = u.Sequence
			if w.metrics != nil {
				w.metrics.ProjectionUpdates.Inc()
				w.metrics.ProjectionLastSeq.Set(float64(w.lastSeq))
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, u Update) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if u.NAV != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.nav_history (sequence, event_type, nav, pps, total_shares, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, u.Sequence, u.EventType, u.NAV, u.PPS, u.TotalShares, u.Timestamp); err != nil {
			return fmt.Errorf("nav history: %w", err)
		}
	}

	for _, ws := range u.Withdrawals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.withdrawal_status (withdrawal_id, owner, due_amount, fee_bps, settled, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (withdrawal_id) DO UPDATE
				SET settled = projections.withdrawal_status.settled OR EXCLUDED.settled,
				    last_sequence = GREATEST(projections.withdrawal_status.last_sequence, EXCLUDED.last_sequence)
		`, ws.WithdrawalID, ws.Owner, ws.DueAmount, ws.FeeBps, ws.Settled, u.Sequence); err != nil {
			return fmt.Errorf("withdrawal status: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, u.Sequence); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}

	return tx.Commit()
}

// Rebuild reconstructs the withdrawal projection from the persistence
// tables and resets the watermark. NAV history refills as new events
// land; its source is the live valuation, not the log.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE projections.withdrawal_status`,
		`TRUNCATE projections.nav_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.withdrawal_status (withdrawal_id, owner, due_amount, fee_bps, settled, last_sequence)
		SELECT withdrawal_id, owner, due_amount, fee_bps, settled, 0
		FROM vault.withdrawals
		ON CONFLICT (withdrawal_id) DO UPDATE
			SET settled = EXCLUDED.settled
	`); err != nil {
		return fmt.Errorf("rebuild withdrawal status: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
