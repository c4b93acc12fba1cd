package event

import (
	"time"

	"github.com/google/uuid"
)

// OrderFill reports an executed rebalance leg from the trading venue.
type OrderFill struct {
	FillID uuid.UUID
	// Intent that produced the order.
	IntentID uuid.UUID
	Asset    string
	IsBuy    bool
	// Base quantity in full decimals of the asset.
	FilledFull int64
	// Funding spent (buy) or received (sell), full funding decimals.
	CostFull  int64
	Timestamp time.Time
	Sequence  int64
}

func (f *OrderFill) IdempotencyKey() string {
	return f.FillID.String()
}

func (f *OrderFill) EventType() Type {
	return TypeOrderFill
}

func (f *OrderFill) SourceSequence() int64 {
	return f.Sequence
}
