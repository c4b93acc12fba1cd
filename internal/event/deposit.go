package event

import (
	"time"

	"github.com/google/uuid"
)

type DepositRequested struct {
	DepositID uuid.UUID
	Owner     string
	Asset     string
	// Gross amount in full funding units, fee not yet taken.
	GrossFull int64
	Timestamp time.Time
	Sequence  int64
}

func (d *DepositRequested) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositRequested) EventType() Type {
	return TypeDepositRequested
}

func (d *DepositRequested) SourceSequence() int64 {
	return d.Sequence
}
