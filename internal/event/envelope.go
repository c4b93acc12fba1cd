package event

import "time"

// Type discriminates event payloads in the log.
type Type int32

const (
	TypeUnknown Type = iota
	TypeDepositRequested
	TypeWithdrawalRequested
	TypePriceUpdate
	TypeOrderFill
	TypeTransferConfirmed
	TypeQueueSettled
	TypeRebalanceCycle
	TypePauseSet
	TypeFeeScheduleUpdate
)

func (t Type) String() string {
	switch t {
	case TypeDepositRequested:
		return "DepositRequested"
	case TypeWithdrawalRequested:
		return "WithdrawalRequested"
	case TypePriceUpdate:
		return "PriceUpdate"
	case TypeOrderFill:
		return "OrderFill"
	case TypeTransferConfirmed:
		return "TransferConfirmed"
	case TypeQueueSettled:
		return "QueueSettled"
	case TypeRebalanceCycle:
		return "RebalanceCycle"
	case TypePauseSet:
		return "PauseSet"
	case TypeFeeScheduleUpdate:
		return "FeeScheduleUpdate"
	default:
		return "Unknown"
	}
}

// Envelope wraps every applied operation in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine.
	Sequence int64

	// Stable idempotency key from upstream.
	IdempotencyKey string

	EventType Type

	// Versioned input timestamp, not wall clock.
	Timestamp time.Time

	// Upstream per-stream sequence for ordering validation.
	SourceSequence int64

	// JSON-encoded payload for the event log.
	Payload []byte

	// SHA-256 of vault state AFTER applying this event, chained to the
	// previous envelope's hash.
	StateHash [32]byte
	PrevHash  [32]byte
}

// Event is the interface all inbound payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key.
	IdempotencyKey() string

	// EventType returns the discriminator.
	EventType() Type

	// SourceSequence returns the upstream ordering key.
	SourceSequence() int64
}
