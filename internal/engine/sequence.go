package engine

import (
	"fmt"

	"VaultEngine/internal/observability"
)

// SequenceValidator enforces contiguous source sequences per upstream
// partition (deposits, withdrawals, fills, transfers, admin). Price
// streams go through ValidatePriceSequence instead: gaps there are
// tolerated because only the latest reading matters.
//
// Not thread-safe; only touched from the single-threaded engine.
type SequenceValidator struct {
	next    map[string]int64
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		next:    make(map[string]int64),
		metrics: metrics,
	}
}

// ValidateSequence checks ordering for a gap-intolerant partition.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.next[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed; the dedup path absorbs it.
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.next[partition] = expected + 1
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// Rewind undoes the advance for an event that validated but failed to
// apply, so its redelivery validates again.
func (sv *SequenceValidator) Rewind(partition string, sourceSequence int64) {
	if sv.next[partition] == sourceSequence+1 {
		sv.next[partition] = sourceSequence
	}
}

// ValidatePriceSequence accepts any forward movement and silently
// drops stale updates.
func (sv *SequenceValidator) ValidatePriceSequence(symbol string, priceSequence int64) (stale bool) {
	partition := fmt.Sprintf("price:%s", symbol)
	expected := sv.next[partition]

	if priceSequence <= expected {
		return true
	}
	if priceSequence > expected+1 && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	sv.next[partition] = priceSequence
	return false
}

// Partitions returns all tracked next-sequence values for snapshotting.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.next))
	for k, v := range sv.next {
		out[k] = v
	}
	return out
}

// RestorePartition seeds one partition from a snapshot.
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.next[partition] = next
}
