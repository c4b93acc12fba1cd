package scheduler

import (
	"context"
	"testing"
	"time"

	"VaultEngine/internal/bridge"
	"VaultEngine/internal/engine"
	"VaultEngine/internal/rebalance"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

type fakeEngine struct {
	polls      int
	rebalances int
	settles    int
	cycleIDs   []uuid.UUID
	rebalErr   error
	settled    []bridge.WithdrawalRequest
}

func (f *fakeEngine) PollPrices(ctx context.Context) { f.polls++ }

func (f *fakeEngine) RunRebalance(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]rebalance.Intent, error) {
	f.rebalances++
	f.cycleIDs = append(f.cycleIDs, cycleID)
	return nil, f.rebalErr
}

func (f *fakeEngine) SettleQueue(ctx context.Context, now time.Time) []bridge.WithdrawalRequest {
	f.settles++
	return f.settled
}

func newTestScheduler(eng Engine) *Scheduler {
	return New(eng, zerolog.Nop())
}

// ============================================================
// Job dispatch
// ============================================================

func TestPollPricesJob_CallsEngine(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestScheduler(eng)

	s.pollPrices(context.Background())

	if eng.polls != 1 {
		t.Errorf("polls: got %d, want 1", eng.polls)
	}
}

func TestRebalanceJob_GeneratesFreshCycleID(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestScheduler(eng)

	s.runRebalance(context.Background())
	s.runRebalance(context.Background())

	if eng.rebalances != 2 {
		t.Fatalf("rebalances: got %d, want 2", eng.rebalances)
	}
	if eng.cycleIDs[0] == eng.cycleIDs[1] {
		t.Error("cycle IDs should be unique per run")
	}
}

func TestRebalanceJob_ToleratesPausedVault(t *testing.T) {
	eng := &fakeEngine{rebalErr: engine.ErrPaused}
	s := newTestScheduler(eng)

	// Must not panic or spin; the job just skips the cycle.
	s.runRebalance(context.Background())

	if eng.rebalances != 1 {
		t.Errorf("rebalances: got %d, want 1", eng.rebalances)
	}
}

func TestSettleJob_DrainsQueue(t *testing.T) {
	eng := &fakeEngine{
		settled: []bridge.WithdrawalRequest{
			{ID: uuid.New(), Owner: "alice", DueFull: 100},
			{ID: uuid.New(), Owner: "bob", DueFull: 200},
		},
	}
	s := newTestScheduler(eng)

	s.settleQueue(context.Background())

	if eng.settles != 1 {
		t.Errorf("settles: got %d, want 1", eng.settles)
	}
}

func TestStart_RejectsBadCronSpec(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})
	defer s.cron.Stop()

	err := s.Start(context.Background(), Config{
		PricePollCron: "not a cron spec",
		RebalanceCron: "@every 1m",
		SettleCron:    "@every 10s",
	})
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestStartAndStop(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})

	err := s.Start(context.Background(), Config{
		PricePollCron: "@every 1h",
		RebalanceCron: "@every 1h",
		SettleCron:    "@every 1h",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Stop()
}
