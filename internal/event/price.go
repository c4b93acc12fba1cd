package event

import (
	"time"

	"github.com/google/uuid"
)

type PriceUpdate struct {
	UpdateID uuid.UUID
	Asset    string
	// Raw feed value in the feed's native scale.
	RawPrice   int64
	ObservedAt time.Time
	Sequence   int64
}

func (p *PriceUpdate) IdempotencyKey() string {
	return p.UpdateID.String()
}

func (p *PriceUpdate) EventType() Type {
	return TypePriceUpdate
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.Sequence
}
