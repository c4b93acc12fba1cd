package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/bridge"
	"VaultEngine/internal/custody"
	"VaultEngine/internal/event"
	"VaultEngine/internal/observability"
	"VaultEngine/internal/oracle"
	"VaultEngine/internal/rebalance"
	"VaultEngine/internal/units"
	"VaultEngine/internal/valuation"
	"VaultEngine/internal/vault"
)

// ErrPaused: the vault rejects deposits, withdrawal requests, and
// rebalancing while paused. Settlement of already-queued withdrawals
// stays allowed.
var ErrPaused = errors.New("vault is paused")

// Output is one applied operation, fanned out to the persistence
// worker (blocking) and the projection worker (best effort).
type Output struct {
	Envelope *event.Envelope

	// Settled is set when the operation paid out a withdrawal,
	// immediate or queued. Queued is set when the payout had to wait
	// for recalled capital.
	Settled *bridge.WithdrawalRequest
	Queued  *bridge.WithdrawalRequest

	// Intents carries the trade intents of a rebalance cycle.
	Intents []rebalance.Intent

	// Post-operation valuation for downstream projections. NAV and
	// PPS stay zero while the oracle cannot price the book.
	NAV         units.USD
	PPS         units.USD
	TotalShares units.Shares
}

// IntentPublisher pushes trade intents to the execution venue.
type IntentPublisher interface {
	PublishIntents(ctx context.Context, intents []rebalance.Intent) error
}

// Engine is the serialized processor for all vault state. Every
// mutation enters through ProcessEvent or one of the scheduler entry
// points; a single mutex makes each operation atomic and totally
// ordered by the global sequence.
type Engine struct {
	mu sync.Mutex

	reg     *asset.Registry
	funding asset.Asset
	feed    *oracle.Feed
	ledger  *vault.Ledger
	remote  *custody.Remote
	valuer  *valuation.Valuer
	planner *rebalance.Planner
	bridge  *bridge.Controller
	queue   *bridge.WithdrawalQueue

	sequence int64
	paused   bool

	// In-flight transfer amounts, deducted from deploy/recall sizing
	// so a slow rail confirmation is not re-sent.
	pendingDeploy units.FullAmount
	pendingRecall units.FullAmount

	intents   map[uuid.UUID]rebalance.Intent
	intentPub IntentPublisher

	hasher       *StateHasher
	idempotency  *IdempotencyChecker
	seqValidator *SequenceValidator
	metrics      *observability.Metrics
	log          zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

func New(
	reg *asset.Registry,
	feed *oracle.Feed,
	ledger *vault.Ledger,
	bridgeCtl *bridge.Controller,
	rebParams rebalance.Params,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	remote := custody.NewRemote()
	return &Engine{
		reg:            reg,
		funding:        reg.Funding(),
		feed:           feed,
		ledger:         ledger,
		remote:         remote,
		valuer:         valuation.NewValuer(reg, remote, feed),
		planner:        rebalance.NewPlanner(reg, rebParams, log),
		bridge:         bridgeCtl,
		queue:          bridge.NewWithdrawalQueue(),
		intents:        make(map[uuid.UUID]rebalance.Intent),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(lruCapacity, dbChecker, metrics),
		seqValidator:   NewSequenceValidator(metrics),
		metrics:        metrics,
		log:            log,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// SetIntentPublisher wires the outbound intent path. Called once
// during startup, before any events flow.
func (e *Engine) SetIntentPublisher(pub IntentPublisher) { e.intentPub = pub }

// ProcessEvent runs the full pipeline for one upstream event:
// dedup, ordering, dispatch, state hash, envelope, emit.
func (e *Engine) ProcessEvent(ctx context.Context, evt event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	isDuplicate := e.idempotency.IsDuplicate(eventType, idempotencyKey)

	advanced := false
	switch ev := evt.(type) {
	case *event.PriceUpdate:
		if stale := e.seqValidator.ValidatePriceSequence(ev.Asset, ev.Sequence); stale {
			return nil
		}
	case *event.QueueSettled, *event.RebalanceCycle:
		// Engine-produced envelopes only come back through ordered log
		// replay; the idempotency key alone dedups them.
	default:
		if err := e.seqValidator.ValidateSequence(e.partition(evt), evt.SourceSequence(), isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
		advanced = true
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.EngineEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	extra, err := e.dispatch(ctx, evt)
	if err != nil {
		// A paused rejection is terminal for this delivery; anything
		// else may be retried, so the partition expectation rewinds to
		// accept the redelivery.
		if advanced && !errors.Is(err, ErrPaused) {
			e.seqValidator.Rewind(e.partition(evt), evt.SourceSequence())
		}
		if e.metrics != nil {
			reason := "validation"
			if errors.Is(err, ErrPaused) {
				reason = "paused"
			}
			e.metrics.EngineEventsRejected.WithLabelValues(eventType, reason).Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	e.commit(evt, e.eventTimestamp(evt), extra)

	if e.metrics != nil {
		e.metrics.EngineEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.EngineEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	e.updateGauges()
	return nil
}

// commit wraps an applied event in an envelope, advances the hash
// chain, and emits the output. The caller holds the mutex and has
// already mutated state.
func (e *Engine) commit(evt event.Event, ts time.Time, extra Output) {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %T: %v", evt, err))
	}

	hashStart := time.Now()
	digest := e.stateDigest()
	prevHash := e.hasher.PrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)
	if e.metrics != nil {
		e.metrics.EngineStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	extra.Envelope = &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Timestamp:      ts,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	extra.TotalShares = e.ledger.TotalShares()
	if nav, err := e.nav(); err == nil {
		extra.NAV = nav
		extra.PPS = e.ledger.PPS(nav)
	}

	e.emit(extra)
	e.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
}

// emit fans an output out to downstream workers. Persistence uses a
// blocking send so no envelope is lost; projections drop on overflow
// and rebuild from the event log.
func (e *Engine) emit(out Output) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("engine").Inc()
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, evt event.Event) (Output, error) {
	switch ev := evt.(type) {
	case *event.DepositRequested:
		return Output{}, e.handleDeposit(ctx, ev)
	case *event.WithdrawalRequested:
		return e.handleWithdrawal(ctx, ev)
	case *event.PriceUpdate:
		return Output{}, e.handlePriceUpdate(ev)
	case *event.OrderFill:
		return Output{}, e.handleOrderFill(ev)
	case *event.TransferConfirmed:
		return Output{}, e.handleTransferConfirmed(ev)
	case *event.PauseSet:
		return Output{}, e.handlePauseSet(ev)
	case *event.FeeScheduleUpdate:
		return Output{}, e.handleFeeScheduleUpdate(ev)
	case *event.QueueSettled:
		return e.replayQueueSettled(ev)
	case *event.RebalanceCycle:
		e.deployExcess(ctx)
		return Output{}, nil
	default:
		return Output{}, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (e *Engine) partition(evt event.Event) string {
	switch evt.EventType() {
	case event.TypeDepositRequested:
		return "deposits"
	case event.TypeWithdrawalRequested:
		return "withdrawals"
	case event.TypeOrderFill:
		return "fills"
	case event.TypeTransferConfirmed:
		return "transfers"
	case event.TypePauseSet, event.TypeFeeScheduleUpdate:
		return "admin"
	default:
		return "global"
	}
}

// eventTimestamp extracts the versioned input timestamp. The engine
// never reads the wall clock while applying an event, so replays
// reproduce identical envelopes.
func (e *Engine) eventTimestamp(evt event.Event) time.Time {
	switch ev := evt.(type) {
	case *event.DepositRequested:
		return ev.Timestamp
	case *event.WithdrawalRequested:
		return ev.Timestamp
	case *event.PriceUpdate:
		return ev.ObservedAt
	case *event.OrderFill:
		return ev.Timestamp
	case *event.TransferConfirmed:
		return ev.Timestamp
	case *event.PauseSet:
		return ev.Timestamp
	case *event.FeeScheduleUpdate:
		return ev.Timestamp
	case *event.QueueSettled:
		return ev.Timestamp
	case *event.RebalanceCycle:
		return ev.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: eventTimestamp called with unhandled event type %T", evt))
	}
}

func (e *Engine) handleDeposit(ctx context.Context, evt *event.DepositRequested) error {
	if e.paused {
		return ErrPaused
	}
	a, ok := e.reg.BySymbol(evt.Asset)
	if !ok {
		return fmt.Errorf("deposit: unknown asset %q", evt.Asset)
	}
	if a.ID != e.funding.ID {
		return fmt.Errorf("deposit: %s is not the funding asset", evt.Asset)
	}

	navPre, err := e.nav()
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	price, err := e.fundingPrice()
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	res, err := e.ledger.Deposit(evt.Owner, units.FullAmount(evt.GrossFull), price, navPre)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.DepositsTotal.Inc()
	}
	e.log.Info().
		Str("owner", evt.Owner).
		Int64("gross_full", evt.GrossFull).
		Str("minted", res.Minted.String()).
		Int64("fee_full", int64(res.FeeFull)).
		Msg("deposit applied")

	// Push a slice of the net amount toward the remote venue right
	// away; the rebalancer handles the rest of the excess.
	if ad := e.ledger.Params().AutoDeployBps; ad > 0 {
		slice := units.FullAmount(int64(res.NetFull) * ad / 10_000)
		if slice > 0 {
			if err := e.bridge.Deploy(ctx, slice); err != nil {
				if errors.Is(err, bridge.ErrRateLimited) {
					e.log.Info().Int64("amount", int64(slice)).Msg("auto-deploy deferred by epoch cap")
				} else {
					e.log.Error().Err(err).Msg("auto-deploy failed")
				}
			} else {
				e.pendingDeploy += slice
			}
		}
	}
	return nil
}

func (e *Engine) handleWithdrawal(ctx context.Context, evt *event.WithdrawalRequested) (Output, error) {
	if e.paused {
		return Output{}, ErrPaused
	}
	raw, ok := new(big.Int).SetString(evt.SharesRaw, 10)
	if !ok {
		return Output{}, fmt.Errorf("withdrawal %s: malformed share amount %q", evt.WithdrawalID, evt.SharesRaw)
	}
	shares := units.SharesFromRaw(raw)

	navPre, err := e.nav()
	if err != nil {
		return Output{}, fmt.Errorf("withdrawal: %w", err)
	}
	price, err := e.fundingPrice()
	if err != nil {
		return Output{}, fmt.Errorf("withdrawal: %w", err)
	}

	res, err := e.ledger.Withdraw(evt.Owner, shares, price, navPre)
	if err != nil {
		return Output{}, err
	}
	if e.metrics != nil {
		e.metrics.WithdrawalsTotal.Inc()
	}

	req := bridge.WithdrawalRequest{
		ID:             evt.WithdrawalID,
		Owner:          evt.Owner,
		SharesBurned:   shares,
		DueFull:        res.DueFull,
		FeeBpsSnapshot: res.FeeBps,
		RequestedAt:    evt.Timestamp,
	}

	if e.ledger.Cash() >= res.DueFull {
		if err := e.ledger.PayOut(res.DueFull); err != nil {
			panic(fmt.Sprintf("FATAL: payout after liquidity check: %v", err))
		}
		req.Settled = true
		req.SettledAt = evt.Timestamp
		e.log.Info().
			Str("owner", evt.Owner).
			Int64("due_full", int64(res.DueFull)).
			Int64("fee_bps", res.FeeBps).
			Msg("withdrawal paid immediately")
		return Output{Settled: &req}, nil
	}

	// The burn already happened; the payout waits in the queue with
	// its fee snapshot fixed.
	e.queue.Enqueue(req)
	e.log.Info().
		Str("owner", evt.Owner).
		Int64("due_full", int64(res.DueFull)).
		Int("queue_depth", e.queue.Len()).
		Msg("withdrawal queued")

	e.recallShortfall(ctx, req.DueFull)
	return Output{Queued: &req}, nil
}

// recallShortfall asks the bridge for whatever the queue head needs
// beyond local cash and in-flight recalls.
func (e *Engine) recallShortfall(ctx context.Context, due units.FullAmount) {
	short := due - e.ledger.Cash() - e.pendingRecall
	if short <= 0 {
		return
	}
	if err := e.bridge.Recall(ctx, short); err != nil {
		if errors.Is(err, bridge.ErrRateLimited) {
			e.log.Info().Int64("amount", int64(short)).Msg("recall deferred by epoch cap")
		} else {
			e.log.Error().Err(err).Msg("recall failed")
		}
		return
	}
	e.pendingRecall += short
}

func (e *Engine) handlePriceUpdate(evt *event.PriceUpdate) error {
	a, ok := e.reg.BySymbol(evt.Asset)
	if !ok {
		return fmt.Errorf("price update: unknown asset %q", evt.Asset)
	}
	r, err := e.feed.Apply(a.ID, evt.RawPrice, evt.ObservedAt)
	if err != nil {
		if e.metrics != nil {
			reason := "source"
			switch {
			case errors.Is(err, oracle.ErrOracleZero):
				reason = "zero"
			case errors.Is(err, oracle.ErrOracleDeviation):
				reason = "deviation"
			}
			e.metrics.OracleRejections.WithLabelValues(a.Symbol, reason).Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.OracleReadings.WithLabelValues(a.Symbol).Inc()
		e.metrics.OraclePrice.WithLabelValues(a.Symbol).Set(float64(r.Price))
	}
	return nil
}

func (e *Engine) handleOrderFill(evt *event.OrderFill) error {
	a, ok := e.reg.BySymbol(evt.Asset)
	if !ok {
		return fmt.Errorf("fill %s: unknown asset %q", evt.FillID, evt.Asset)
	}
	if a.Role != asset.RoleRisk {
		return fmt.Errorf("fill %s: %s is not a risk asset", evt.FillID, evt.Asset)
	}
	delete(e.intents, evt.IntentID)
	return e.remote.ApplyFill(a.ID, units.FullAmount(evt.FilledFull), units.FullAmount(evt.CostFull), evt.IsBuy)
}

func (e *Engine) handleTransferConfirmed(evt *event.TransferConfirmed) error {
	amount := units.FullAmount(evt.AmountFull)
	if amount <= 0 {
		return fmt.Errorf("transfer %s: non-positive amount %d", evt.TransferID, evt.AmountFull)
	}
	switch evt.Direction {
	case event.TransferDeploy:
		if err := e.ledger.DebitCash(amount); err != nil {
			return fmt.Errorf("transfer %s: %w", evt.TransferID, err)
		}
		if err := e.remote.ApplyTransfer(custody.DirectionDeploy, amount); err != nil {
			return err
		}
		e.pendingDeploy -= amount
		if e.pendingDeploy < 0 {
			e.pendingDeploy = 0
		}
	case event.TransferRecall:
		if err := e.remote.ApplyTransfer(custody.DirectionRecall, amount); err != nil {
			return fmt.Errorf("transfer %s: %w", evt.TransferID, err)
		}
		e.ledger.CreditCash(amount)
		e.pendingRecall -= amount
		if e.pendingRecall < 0 {
			e.pendingRecall = 0
		}
	default:
		return fmt.Errorf("transfer %s: unknown direction %q", evt.TransferID, evt.Direction)
	}
	if e.metrics != nil {
		e.metrics.BridgeTransfers.WithLabelValues(evt.Direction).Inc()
	}
	return nil
}

func (e *Engine) handlePauseSet(evt *event.PauseSet) error {
	e.paused = evt.Paused
	if e.metrics != nil {
		v := 0.0
		if evt.Paused {
			v = 1.0
		}
		e.metrics.EnginePaused.Set(v)
	}
	e.log.Warn().Bool("paused", evt.Paused).Msg("pause state changed")
	return nil
}

func (e *Engine) handleFeeScheduleUpdate(evt *event.FeeScheduleUpdate) error {
	steps := make([]vault.FeeStep, 0, len(evt.Steps))
	for _, s := range evt.Steps {
		steps = append(steps, vault.FeeStep{
			MinUSD: units.USDFromDollars(s.MinDollars),
			Bps:    s.Bps,
		})
	}
	sched, err := vault.NewFeeSchedule(steps)
	if err != nil {
		return fmt.Errorf("fee schedule update: %w", err)
	}
	e.ledger.UpdateWithdrawFees(sched)
	e.log.Info().Int("steps", len(steps)).Msg("withdraw fee schedule updated")
	return nil
}

// fundingPrice returns the oracle price for the funding asset. The
// stable leg is never assumed to be at par: until its feed has a valid
// reading, every operation that prices shares refuses to run.
func (e *Engine) fundingPrice() (units.PriceUSD1e8, error) {
	price, err := e.feed.Price(e.funding.ID)
	if err != nil {
		return 0, fmt.Errorf("funding price: %w", err)
	}
	return price, nil
}

// nav is net asset value: local cash plus remote equity minus queued
// withdrawal liabilities. Queued dues were fixed at burn time and are
// owed regardless of later price moves.
func (e *Engine) nav() (units.USD, error) {
	equity, err := e.valuer.RemoteEquityUSD()
	if err != nil {
		return units.USD{}, err
	}
	nav := e.ledger.CashUSD().Add(equity)
	return nav.Sub(units.FundingUSD(e.funding, e.queue.PendingTotal())), nil
}

// --- Scheduler entry points ---

// PollPrices refreshes every asset's oracle reading. Individual
// failures leave the prior reading authoritative and do not abort the
// pass.
func (e *Engine) PollPrices(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range append(e.reg.Risk(), e.funding) {
		r, err := e.feed.Poll(ctx, a.ID)
		if err != nil {
			if e.metrics != nil {
				reason := "source"
				switch {
				case errors.Is(err, oracle.ErrOracleZero):
					reason = "zero"
				case errors.Is(err, oracle.ErrOracleDeviation):
					reason = "deviation"
				}
				e.metrics.OracleRejections.WithLabelValues(a.Symbol, reason).Inc()
			}
			e.log.Warn().Err(err).Str("asset", a.Symbol).Msg("price poll failed")
			continue
		}
		if e.metrics != nil {
			e.metrics.OracleReadings.WithLabelValues(a.Symbol).Inc()
			e.metrics.OraclePrice.WithLabelValues(a.Symbol).Set(float64(r.Price))
		}
	}
}

// RunRebalance plans a 50/50 cycle, records the resulting intents,
// publishes them, and deploys local cash beyond the reserve. The
// cycle is logged like any other event.
func (e *Engine) RunRebalance(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]rebalance.Intent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrPaused
	}

	snap, err := e.valuer.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("rebalance: %w", err)
	}

	var intents []rebalance.Intent
	if snap.TotalUSD.Sign() > 0 {
		prices := make(map[asset.ID]units.PriceUSD1e8, 2)
		for _, a := range e.reg.Risk() {
			price, err := e.feed.Price(a.ID)
			if err != nil {
				return nil, fmt.Errorf("rebalance: %w", err)
			}
			prices[a.ID] = price
		}
		intents, err = e.planner.Plan(snap, prices)
		if err != nil {
			return nil, fmt.Errorf("rebalance: %w", err)
		}
	}

	for _, it := range intents {
		e.intents[it.IntentID] = it
		if e.metrics != nil {
			a, _ := e.reg.Get(it.Asset)
			e.metrics.RebalanceIntents.WithLabelValues(a.Symbol, it.Side.String()).Inc()
		}
	}
	if e.metrics != nil {
		e.metrics.RebalanceCycles.Inc()
	}

	e.deployExcess(ctx)

	cycle := &event.RebalanceCycle{CycleID: cycleID, Intents: len(intents), Sequence: e.sequence, Timestamp: now}
	e.commit(cycle, now, Output{Intents: intents})
	e.updateGauges()

	if e.intentPub != nil && len(intents) > 0 {
		if err := e.intentPub.PublishIntents(ctx, intents); err != nil {
			e.log.Error().Err(err).Msg("intent publish failed")
		}
	}
	return intents, nil
}

// deployExcess pushes local cash above the configured reserve toward
// the remote venue, net of transfers already in flight.
func (e *Engine) deployExcess(ctx context.Context) {
	nav, err := e.nav()
	if err != nil {
		e.log.Warn().Err(err).Msg("deploy sizing skipped")
		return
	}
	reserveFull := units.FundingFromUSD(e.funding, nav.MulBps(e.ledger.Params().ReserveBps))
	excess := e.ledger.Cash() - reserveFull - e.pendingDeploy - e.queue.PendingTotal()
	if excess <= 0 {
		return
	}
	if err := e.bridge.Deploy(ctx, excess); err != nil {
		if errors.Is(err, bridge.ErrRateLimited) {
			e.log.Info().Int64("amount", int64(excess)).Msg("deploy deferred by epoch cap")
		} else {
			e.log.Error().Err(err).Msg("deploy failed")
		}
		return
	}
	e.pendingDeploy += excess
}

// SettleQueue pays queued withdrawals strictly in order while local
// cash covers the head in full, then requests a recall for whatever
// the next head still needs. Runs even while paused.
func (e *Engine) SettleQueue(ctx context.Context, now time.Time) []bridge.WithdrawalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	var settled []bridge.WithdrawalRequest
	for {
		req, ok := e.queue.SettleNext(e.ledger.Cash(), now)
		if !ok {
			break
		}
		if err := e.ledger.PayOut(req.DueFull); err != nil {
			panic(fmt.Sprintf("FATAL: queue payout after liquidity check: %v", err))
		}
		if e.metrics != nil {
			e.metrics.QueueSettlements.Inc()
		}
		e.log.Info().
			Str("owner", req.Owner).
			Int64("due_full", int64(req.DueFull)).
			Msg("queued withdrawal settled")

		out := &event.QueueSettled{
			WithdrawalID: req.ID,
			Owner:        req.Owner,
			PaidFull:     int64(req.DueFull),
			Sequence:     e.sequence,
			Timestamp:    now,
		}
		reqCopy := req
		e.commit(out, now, Output{Settled: &reqCopy})
		settled = append(settled, req)
	}

	if head, ok := e.queue.Peek(); ok {
		e.recallShortfall(ctx, head.DueFull)
	}
	e.updateGauges()
	return settled
}

// replayQueueSettled re-applies a payout the live engine recorded via
// SettleQueue. Only reached when the event log is replayed; live
// settlement commits directly and never routes through dispatch.
func (e *Engine) replayQueueSettled(evt *event.QueueSettled) (Output, error) {
	req, ok := e.queue.SettleNext(e.ledger.Cash(), evt.Timestamp)
	if !ok {
		return Output{}, fmt.Errorf("settle replay %s: queue head unavailable", evt.WithdrawalID)
	}
	if req.ID != evt.WithdrawalID {
		return Output{}, fmt.Errorf("settle replay: head %s does not match recorded %s", req.ID, evt.WithdrawalID)
	}
	if int64(req.DueFull) != evt.PaidFull {
		return Output{}, fmt.Errorf("settle replay %s: due %d does not match recorded payout %d",
			evt.WithdrawalID, req.DueFull, evt.PaidFull)
	}
	if err := e.ledger.PayOut(req.DueFull); err != nil {
		panic(fmt.Sprintf("FATAL: queue payout after liquidity check: %v", err))
	}
	if e.metrics != nil {
		e.metrics.QueueSettlements.Inc()
	}
	return Output{Settled: &req}, nil
}

// --- Read-only queries ---

func (e *Engine) NAVUSD() (units.USD, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nav()
}

func (e *Engine) PPSUSD() (units.USD, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nav, err := e.nav()
	if err != nil {
		return units.USD{}, err
	}
	return e.ledger.PPS(nav), nil
}

func (e *Engine) TotalShares() units.Shares {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalShares()
}

func (e *Engine) SharesOf(owner string) units.Shares {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.SharesOf(owner)
}

func (e *Engine) RemoteEquityUSD() (units.USD, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valuer.RemoteEquityUSD()
}

func (e *Engine) LocalCash() units.FullAmount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Cash()
}

func (e *Engine) QuoteWithdrawFeeBps(size units.USD) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.QuoteWithdrawFeeBps(size)
}

func (e *Engine) PendingWithdrawals() []bridge.WithdrawalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Pending()
}

func (e *Engine) OutstandingIntents() []rebalance.Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]rebalance.Intent, 0, len(e.intents))
	for _, it := range e.intents {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IntentID.String() < out[j].IntentID.String()
	})
	return out
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.PrevHash()
}

// --- State digest ---

// stateDigest builds the canonical byte representation of all vault
// state feeding the hash chain. Maps are sorted before encoding.
func (e *Engine) stateDigest() []byte {
	digest := make([]byte, 0, 256)

	if e.paused {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	digest = appendInt64LE(digest, int64(e.ledger.Cash()))
	digest = appendBig(digest, e.ledger.TotalShares().Raw())

	balances := e.ledger.Snapshot()
	owners := make([]string, 0, len(balances))
	for owner := range balances {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		digest = append(digest, byte(len(owner)))
		digest = append(digest, owner...)
		digest = appendBig(digest, balances[owner].Raw())
	}

	positions, remoteFunding := e.remote.Snapshot()
	ids := make([]asset.ID, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		digest = append(digest, byte(id>>8), byte(id))
		digest = appendInt64LE(digest, int64(positions[id]))
	}
	digest = appendInt64LE(digest, int64(remoteFunding))

	for _, a := range append(e.reg.Risk(), e.funding) {
		if r, ok := e.feed.Last(a.ID); ok {
			digest = append(digest, byte(a.ID>>8), byte(a.ID))
			digest = appendInt64LE(digest, int64(r.Price))
			digest = appendInt64LE(digest, r.Version)
		}
	}

	for _, req := range e.queue.Pending() {
		digest = append(digest, req.ID[:]...)
		digest = appendInt64LE(digest, int64(req.DueFull))
	}

	digest = appendInt64LE(digest, int64(e.bridge.EpochUsed()))
	digest = appendInt64LE(digest, int64(e.pendingDeploy))
	digest = appendInt64LE(digest, int64(e.pendingRecall))
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendBig(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	e.metrics.QueuePendingFull.Set(float64(e.queue.PendingTotal()))
	e.metrics.BridgeEpochUsed.Set(float64(e.bridge.EpochUsed()))
	e.metrics.LocalCashFull.Set(float64(e.ledger.Cash()))

	shares, _ := new(big.Float).SetInt(e.ledger.TotalShares().Raw()).Float64()
	e.metrics.SharesOutstanding.Set(shares / 1e18)

	if nav, err := e.nav(); err == nil {
		navF, _ := new(big.Float).SetInt(nav.Raw()).Float64()
		e.metrics.NAVDollars.Set(navF / 1e18)
		ppsF, _ := new(big.Float).SetInt(e.ledger.PPS(nav).Raw()).Float64()
		e.metrics.PricePerShareUSD.Set(ppsF / 1e18)
	}
}

// --- Snapshot & restore ---

// SnapshotState is the serializable in-memory state for warm restart.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	Paused    bool

	Balances    map[string]units.Shares
	TotalShares units.Shares
	Cash        units.FullAmount

	RemotePositions map[asset.ID]units.FullAmount
	RemoteFunding   units.FullAmount

	Readings []oracle.Reading
	Queue    []bridge.WithdrawalRequest

	EpochStart       time.Time
	EpochTransferred units.FullAmount
	PendingDeploy    units.FullAmount
	PendingRecall    units.FullAmount

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures current state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions, remoteFunding := e.remote.Snapshot()
	readings := make([]oracle.Reading, 0, 3)
	for _, a := range append(e.reg.Risk(), e.funding) {
		if r, ok := e.feed.Last(a.ID); ok {
			readings = append(readings, r)
		}
	}
	epochStart, epochTransferred := e.bridge.EpochState()

	return &SnapshotState{
		Sequence:         e.sequence - 1,
		StateHash:        e.hasher.PrevHash(),
		Paused:           e.paused,
		Balances:         e.ledger.Snapshot(),
		TotalShares:      e.ledger.TotalShares(),
		Cash:             e.ledger.Cash(),
		RemotePositions:  positions,
		RemoteFunding:    remoteFunding,
		Readings:         readings,
		Queue:            e.queue.Pending(),
		EpochStart:       epochStart,
		EpochTransferred: epochTransferred,
		PendingDeploy:    e.pendingDeploy,
		PendingRecall:    e.pendingRecall,
		SequenceState:    e.seqValidator.Partitions(),
		IdempotencyKeys:  e.idempotency.Keys(),
	}
}

// RestoreFromSnapshot seeds all state from a snapshot, after which
// the event log from snap.Sequence+1 onward is replayed.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.paused = snap.Paused
	e.ledger.Restore(snap.Balances, snap.TotalShares, snap.Cash)
	e.remote.Restore(snap.RemotePositions, snap.RemoteFunding)
	for _, r := range snap.Readings {
		e.feed.Restore(r)
	}
	e.queue.Restore(snap.Queue)
	e.bridge.RestoreEpoch(snap.EpochStart, snap.EpochTransferred)
	e.pendingDeploy = snap.PendingDeploy
	e.pendingRecall = snap.PendingRecall
	for partition, next := range snap.SequenceState {
		e.seqValidator.RestorePartition(partition, next)
	}
	e.idempotency.Warm(snap.IdempotencyKeys)

	if err := e.ledger.ValidateShareConservation(); err != nil {
		panic(fmt.Sprintf("FATAL: snapshot restore: %v", err))
	}
}
