package vault

import (
	"fmt"
	"sort"

	"VaultEngine/internal/units"
)

// FeeStep is one tier of the withdraw fee schedule: withdrawals of at
// least MinUSD pay Bps.
type FeeStep struct {
	MinUSD units.USD
	Bps    int64
}

// FeeSchedule is a monotonically non-decreasing step function of
// withdrawal size in USD. Larger withdrawals may pay a higher rate to
// discourage liquidity shocks; they never pay a lower one.
type FeeSchedule struct {
	steps []FeeStep
}

// NewFeeSchedule validates and sorts the steps. The first step must
// start at zero so every withdrawal size maps to a tier.
func NewFeeSchedule(steps []FeeStep) (FeeSchedule, error) {
	if len(steps) == 0 {
		return FeeSchedule{}, fmt.Errorf("fee schedule: no steps")
	}

	sorted := make([]FeeStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinUSD.Cmp(sorted[j].MinUSD) < 0
	})

	if !sorted[0].MinUSD.IsZero() {
		return FeeSchedule{}, fmt.Errorf("fee schedule: first step must start at 0 USD")
	}
	for i, s := range sorted {
		if s.Bps < 0 || s.Bps > 10_000 {
			return FeeSchedule{}, fmt.Errorf("fee schedule: step %d bps %d out of range", i, s.Bps)
		}
		if i > 0 {
			if sorted[i-1].MinUSD.Cmp(s.MinUSD) == 0 {
				return FeeSchedule{}, fmt.Errorf("fee schedule: duplicate threshold %s", s.MinUSD)
			}
			if s.Bps < sorted[i-1].Bps {
				return FeeSchedule{}, fmt.Errorf("fee schedule: bps decrease at step %d", i)
			}
		}
	}

	return FeeSchedule{steps: sorted}, nil
}

// BpsFor returns the fee rate for a withdrawal of the given USD size.
func (s FeeSchedule) BpsFor(size units.USD) int64 {
	bps := s.steps[0].Bps
	for _, step := range s.steps[1:] {
		if size.Cmp(step.MinUSD) >= 0 {
			bps = step.Bps
		}
	}
	return bps
}

// Steps returns a copy of the schedule tiers (for snapshots and quotes).
func (s FeeSchedule) Steps() []FeeStep {
	out := make([]FeeStep, len(s.steps))
	copy(out, s.steps)
	return out
}
