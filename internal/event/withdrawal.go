package event

import (
	"time"

	"github.com/google/uuid"
)

type WithdrawalRequested struct {
	WithdrawalID uuid.UUID
	Owner        string
	// Shares to burn, decimal string of the 1e18 fixed-point raw value.
	// Share supply can exceed int64 so the wire form stays a string.
	SharesRaw string
	Timestamp time.Time
	Sequence  int64
}

func (w *WithdrawalRequested) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *WithdrawalRequested) EventType() Type {
	return TypeWithdrawalRequested
}

func (w *WithdrawalRequested) SourceSequence() int64 {
	return w.Sequence
}

// QueueSettled is recorded when a queued withdrawal pays out. It is
// engine-produced, so the envelope key is derived rather than upstream.
type QueueSettled struct {
	WithdrawalID uuid.UUID
	Owner        string
	PaidFull     int64
	Sequence     int64
	Timestamp    time.Time
}

func (q *QueueSettled) IdempotencyKey() string {
	return "settle-" + q.WithdrawalID.String()
}

func (q *QueueSettled) EventType() Type {
	return TypeQueueSettled
}

func (q *QueueSettled) SourceSequence() int64 {
	return q.Sequence
}
