package event

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransferDeploy = "deploy"
	TransferRecall = "recall"
)

// TransferConfirmed acknowledges a cross-venue funding move.
type TransferConfirmed struct {
	TransferID uuid.UUID
	// TransferDeploy or TransferRecall.
	Direction  string
	AmountFull int64
	Timestamp  time.Time
	Sequence   int64
}

func (t *TransferConfirmed) IdempotencyKey() string {
	return t.TransferID.String()
}

func (t *TransferConfirmed) EventType() Type {
	return TypeTransferConfirmed
}

func (t *TransferConfirmed) SourceSequence() int64 {
	return t.Sequence
}
