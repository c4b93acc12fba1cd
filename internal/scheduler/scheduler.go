package scheduler

import (
	"context"
	"errors"
	"time"

	"VaultEngine/internal/bridge"
	"VaultEngine/internal/engine"
	"VaultEngine/internal/rebalance"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Engine is the surface the scheduler drives. Cycle identity and wall
// time are injected here so the engine itself stays deterministic.
type Engine interface {
	PollPrices(ctx context.Context)
	RunRebalance(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]rebalance.Intent, error)
	SettleQueue(ctx context.Context, now time.Time) []bridge.WithdrawalRequest
}

// Config holds the cron expressions for the three periodic jobs.
type Config struct {
	PricePollCron string
	RebalanceCron string
	SettleCron    string
}

// Scheduler runs the vault's periodic jobs: oracle polling, rebalance
// cycles, and withdrawal queue settlement.
type Scheduler struct {
	cron   *cron.Cron
	engine Engine
	log    zerolog.Logger
}

func New(eng Engine, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		engine: eng,
		log:    log,
	}
}

// Start registers the jobs and starts the cron loop. Jobs share the
// given context; cancellation stops work mid-job but Stop must still
// be called to halt the cron loop.
func (s *Scheduler) Start(ctx context.Context, cfg Config) error {
	if _, err := s.cron.AddFunc(cfg.PricePollCron, func() { s.pollPrices(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cfg.RebalanceCron, func() { s.runRebalance(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cfg.SettleCron, func() { s.settleQueue(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().
		Str("price_poll", cfg.PricePollCron).
		Str("rebalance", cfg.RebalanceCron).
		Str("settle", cfg.SettleCron).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) pollPrices(ctx context.Context) {
	s.engine.PollPrices(ctx)
}

func (s *Scheduler) runRebalance(ctx context.Context) {
	cycleID := uuid.New()
	intents, err := s.engine.RunRebalance(ctx, cycleID, time.Now())
	if err != nil {
		// A paused vault skips cycles silently; anything else is worth a log line.
		if !errors.Is(err, engine.ErrPaused) {
			s.log.Error().Err(err).Str("cycle_id", cycleID.String()).Msg("rebalance cycle failed")
		}
		return
	}
	if len(intents) > 0 {
		s.log.Info().
			Str("cycle_id", cycleID.String()).
			Int("intents", len(intents)).
			Msg("rebalance cycle produced orders")
	}
}

func (s *Scheduler) settleQueue(ctx context.Context) {
	settled := s.engine.SettleQueue(ctx, time.Now())
	for _, req := range settled {
		s.log.Info().
			Str("withdrawal_id", req.ID.String()).
			Str("owner", req.Owner).
			Int64("paid", int64(req.DueFull)).
			Msg("withdrawal settled")
	}
}
