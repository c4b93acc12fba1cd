package event

import (
	"time"

	"github.com/google/uuid"
)

type PauseSet struct {
	CommandID uuid.UUID
	Paused    bool
	Timestamp time.Time
	Sequence  int64
}

func (p *PauseSet) IdempotencyKey() string {
	return p.CommandID.String()
}

func (p *PauseSet) EventType() Type {
	return TypePauseSet
}

func (p *PauseSet) SourceSequence() int64 {
	return p.Sequence
}

type FeeStepUpdate struct {
	// Threshold in whole dollars.
	MinDollars int64
	Bps        int64
}

type FeeScheduleUpdate struct {
	CommandID uuid.UUID
	Steps     []FeeStepUpdate
	Timestamp time.Time
	Sequence  int64
}

func (f *FeeScheduleUpdate) IdempotencyKey() string {
	return f.CommandID.String()
}

func (f *FeeScheduleUpdate) EventType() Type {
	return TypeFeeScheduleUpdate
}

func (f *FeeScheduleUpdate) SourceSequence() int64 {
	return f.Sequence
}

// RebalanceCycle is engine-produced when a planning pass runs, keyed by
// cycle so replays dedup cleanly.
type RebalanceCycle struct {
	CycleID   uuid.UUID
	Intents   int
	Sequence  int64
	Timestamp time.Time
}

func (r *RebalanceCycle) IdempotencyKey() string {
	return "cycle-" + r.CycleID.String()
}

func (r *RebalanceCycle) EventType() Type {
	return TypeRebalanceCycle
}

func (r *RebalanceCycle) SourceSequence() int64 {
	return r.Sequence
}
