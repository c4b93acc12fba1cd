package ingestion

import (
	"VaultEngine/internal/asset"
	"VaultEngine/internal/rebalance"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes committed envelopes to NATS for
// downstream consumers. Outbound events go out after persistence is
// confirmed; subjects follow vault.engine.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	log       zerolog.Logger
}

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	PrevHash       []byte          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly.
				op.log.Warn().Int64("sequence", evt.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.engine.events.%s", evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// IntentNotice is the wire form of a rebalance order handed to the
// execution venue. Sizes are compact units, prices are USD 1e8, the
// delta is a raw 1e18 USD decimal string.
type IntentNotice struct {
	IntentID   string `json:"intent_id"`
	Asset      string `json:"asset"`
	Side       string `json:"side"`
	Size       int64  `json:"size"`
	LimitPrice int64  `json:"limit_price"`
	DeltaUSD   string `json:"delta_usd"`
}

// SettlementNotice is the wire form of a paid-out withdrawal.
type SettlementNotice struct {
	WithdrawalID string    `json:"withdrawal_id"`
	Owner        string    `json:"owner"`
	PaidAmount   int64     `json:"paid_amount"`
	FeeBps       int64     `json:"fee_bps"`
	SettledAt    time.Time `json:"settled_at"`
}

// VenuePublisher pushes rebalance intents and settlement notices to the
// execution venue over JetStream. It satisfies the engine's intent
// publisher contract.
type VenuePublisher struct {
	js  jetstream.JetStream
	reg *asset.Registry
	log zerolog.Logger
}

func NewVenuePublisher(js jetstream.JetStream, reg *asset.Registry, log zerolog.Logger) *VenuePublisher {
	return &VenuePublisher{js: js, reg: reg, log: log}
}

// PublishIntents sends each intent to vault.intents.{symbol}. A failed
// send aborts the batch; the venue dedups by intent_id so a retried
// cycle is safe.
func (vp *VenuePublisher) PublishIntents(ctx context.Context, intents []rebalance.Intent) error {
	for _, it := range intents {
		a, ok := vp.reg.Get(it.Asset)
		if !ok {
			return fmt.Errorf("intent %s: unknown asset id %d", it.IntentID, it.Asset)
		}

		notice := IntentNotice{
			IntentID:   it.IntentID.String(),
			Asset:      a.Symbol,
			Side:       it.Side.String(),
			Size:       int64(it.SizeCompact),
			LimitPrice: int64(it.LimitPrice),
			DeltaUSD:   it.DeltaUSD.String(),
		}
		data, err := json.Marshal(notice)
		if err != nil {
			return fmt.Errorf("marshal intent %s: %w", it.IntentID, err)
		}

		subject := fmt.Sprintf("vault.intents.%s", a.Symbol)
		if _, err := vp.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish intent %s: %w", it.IntentID, err)
		}
		vp.log.Info().
			Str("intent_id", it.IntentID.String()).
			Str("asset", a.Symbol).
			Str("side", it.Side.String()).
			Int64("size", int64(it.SizeCompact)).
			Msg("intent published")
	}
	return nil
}

// PublishSettlement announces a paid-out withdrawal on vault.settlements.
func (vp *VenuePublisher) PublishSettlement(ctx context.Context, withdrawalID uuid.UUID, owner string, paidFull, feeBps int64, settledAt time.Time) error {
	notice := SettlementNotice{
		WithdrawalID: withdrawalID.String(),
		Owner:        owner,
		PaidAmount:   paidFull,
		FeeBps:       feeBps,
		SettledAt:    settledAt,
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal settlement %s: %w", withdrawalID, err)
	}
	if _, err := vp.js.Publish(ctx, "vault.settlements", data); err != nil {
		return fmt.Errorf("publish settlement %s: %w", withdrawalID, err)
	}
	return nil
}

// EnsureOutboundStream creates the stream backing all engine-produced
// subjects: envelope fanout, intents, settlement notices, and custody
// transfer instructions.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_ENGINE_EVENTS",
		Subjects:  []string{"vault.engine.events.>", "vault.intents.>", "vault.settlements", "vault.custody.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "VAULT_ENGINE_EVENTS").Msg("ensured outbound stream")
	return nil
}
