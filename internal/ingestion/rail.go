package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VaultEngine/internal/custody"
	"VaultEngine/internal/units"
)

// TransferInstruction is the wire form of a bridge transfer handed to
// the custody operator. The operator executes the movement and reports
// completion with a TransferConfirmed event on vault.transfers.>.
type TransferInstruction struct {
	TransferID  string `json:"transfer_id"`
	Direction   string `json:"direction"`
	Amount      int64  `json:"amount"`
	RequestedUs int64  `json:"requested_us"`
}

// NATSTransferRail publishes transfer instructions to
// vault.custody.{direction}. It stays disarmed during log replay:
// unarmed sends report success without touching the wire, so replayed
// events re-derive in-flight counters without moving capital twice.
type NATSTransferRail struct {
	js    jetstream.JetStream
	log   zerolog.Logger
	armed atomic.Bool
}

func NewNATSTransferRail(js jetstream.JetStream, log zerolog.Logger) *NATSTransferRail {
	return &NATSTransferRail{js: js, log: log}
}

// Arm switches the rail live. Called once, after replay finishes and
// before the ingestion loop starts.
func (r *NATSTransferRail) Arm() { r.armed.Store(true) }

func (r *NATSTransferRail) Send(ctx context.Context, dir custody.Direction, amount units.FullAmount) error {
	if !r.armed.Load() {
		return nil
	}

	instr := TransferInstruction{
		TransferID:  uuid.New().String(),
		Direction:   dir.String(),
		Amount:      int64(amount),
		RequestedUs: time.Now().UnixMicro(),
	}
	data, err := json.Marshal(instr)
	if err != nil {
		return fmt.Errorf("marshal transfer instruction: %w", err)
	}

	subject := fmt.Sprintf("vault.custody.%s", dir)
	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish transfer instruction: %w", err)
	}
	r.log.Info().
		Str("transfer_id", instr.TransferID).
		Str("direction", instr.Direction).
		Int64("amount", instr.Amount).
		Msg("transfer instruction published")
	return nil
}
