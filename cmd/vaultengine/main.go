// VaultEngine daemon. Wires the event-sourced vault engine to NATS
// JetStream ingestion, Postgres persistence, the cron scheduler, and
// the HTTP query surface, then runs until SIGINT/SIGTERM.
//
// Startup order matters: migrations, snapshot restore, event log
// replay, then live traffic. The transfer rail stays disarmed until
// replay finishes so reconstructed state never re-moves capital.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/bridge"
	"VaultEngine/internal/config"
	"VaultEngine/internal/engine"
	"VaultEngine/internal/event"
	"VaultEngine/internal/ingestion"
	"VaultEngine/internal/observability"
	"VaultEngine/internal/oracle"
	"VaultEngine/internal/persistence"
	"VaultEngine/internal/projection"
	"VaultEngine/internal/query"
	"VaultEngine/internal/scheduler"
	"VaultEngine/internal/units"
	"VaultEngine/internal/vault"
)

const replayBatchSize = 1000

func main() {
	log := observability.NewLogger("vaultengine")

	cfgPath := os.Getenv("VAULT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("build asset registry")
	}
	ledgerParams, err := cfg.LedgerParams()
	if err != nil {
		log.Fatal().Err(err).Msg("build ledger params")
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("ping postgres")
	}
	pingCancel()

	if err := persistence.NewMigrator(db, cfg.Persistence.MigrationsDir, log).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	if os.Getenv("VAULT_REBUILD_PROJECTIONS") == "1" {
		if err := projection.Rebuild(ctx, db, log); err != nil {
			log.Fatal().Err(err).Msg("projection rebuild")
		}
	}

	// --- NATS ---

	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Engine assembly ---

	rail := ingestion.NewNATSTransferRail(js, log)
	bridgeCtl := bridge.NewController(rail, bridge.Params{
		EpochLength: cfg.BridgeEpoch(),
		MaxPerEpoch: units.FullAmount(cfg.Bridge.MaxPerEpoch),
		EpochStart:  time.Now(),
	}, log)

	feed := oracle.NewFeed(ingestion.NewNATSPriceSource(nc, reg), reg, log)
	ledger := vault.NewLedger(reg.Funding(), ledgerParams)

	persistChan := make(chan engine.Output, cfg.Engine.PersistChanSize)
	projectionChan := make(chan engine.Output, cfg.Engine.ProjectionChanSize)

	eng := engine.New(
		reg, feed, ledger, bridgeCtl, cfg.RebalanceParams(),
		persistChan, projectionChan,
		persistence.NewPostgresIdempotencyChecker(db),
		cfg.Engine.IdempotencyLRUCapacity,
		metrics, log,
	)

	venuePub := ingestion.NewVenuePublisher(js, reg, log)
	eng.SetIntentPublisher(venuePub)

	// Outbound fanout stays quiet until replay finishes; replayed
	// envelopes are already persisted and already announced.
	var live atomic.Bool

	// --- Persistence pipeline ---
	//
	// Workers start before replay: envelope writes are idempotent, so
	// replayed outputs just no-op against rows that already exist.

	workerChan := make(chan persistence.EngineOutput, cfg.Engine.PersistChanSize)
	worker := persistence.NewWorker(db, workerChan, cfg.Persistence.BatchSize, cfg.FlushTimeout(), metrics, log)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("persistence worker stopped")
		}
	}()

	go func() {
		defer close(workerChan)
		for out := range persistChan {
			workerChan <- toPersistOutput(out)
			if live.Load() && out.Settled != nil {
				s := out.Settled
				if err := venuePub.PublishSettlement(ctx, s.ID, s.Owner, int64(s.DueFull), s.FeeBpsSnapshot, s.SettledAt); err != nil {
					log.Warn().Err(err).Str("withdrawal_id", s.ID.String()).Msg("settlement publish failed")
				}
			}
		}
	}()

	publishChan := make(chan ingestion.PublishableEvent, cfg.Engine.ProjectionChanSize)
	outboundPub := ingestion.NewOutboundPublisher(js, publishChan, log)

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		if err := outboundPub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbound publisher stopped")
		}
	}()

	projUpdateChan := make(chan projection.Update, cfg.Engine.ProjectionChanSize)
	projWorker := projection.NewWorker(db, projUpdateChan, metrics, log)

	projWorkerDone := make(chan struct{})
	go func() {
		defer close(projWorkerDone)
		if err := projWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("projection worker stopped")
		}
	}()

	// Projection tables also rebuild during replay; only the outbound
	// publish waits for the live flag.
	go func() {
		defer close(publishChan)
		defer close(projUpdateChan)
		for out := range projectionChan {
			if out.Envelope == nil {
				continue
			}
			select {
			case projUpdateChan <- toProjectionUpdate(out):
			default:
				metrics.ProjectionDrops.WithLabelValues("tables").Inc()
			}
			if !live.Load() {
				continue
			}
			select {
			case publishChan <- toPublishable(out.Envelope):
			default:
				metrics.ProjectionDrops.WithLabelValues("publisher").Inc()
			}
		}
	}()

	// --- Restore & replay ---

	snapshots := persistence.NewSnapshotManager(db)

	snapData, err := snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}
	var replayFrom int64
	if snapData != nil {
		state, err := fromSnapshotData(snapData)
		if err != nil {
			log.Fatal().Err(err).Int64("sequence", snapData.Sequence).Msg("decode snapshot")
		}
		eng.RestoreFromSnapshot(state)
		replayFrom = snapData.Sequence + 1
		log.Info().
			Int64("sequence", snapData.Sequence).
			Int("balances", len(snapData.Balances)).
			Int("queued", len(snapData.Queue)).
			Msg("state restored from snapshot")
	}

	replayed, err := replayEvents(ctx, snapshots, eng, replayFrom, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("event log replay")
	}

	if snapData != nil && replayed == 0 {
		got := eng.StateHash()
		if !bytes.Equal(got[:], snapData.StateHash) {
			log.Fatal().
				Int64("sequence", snapData.Sequence).
				Msg("state hash mismatch after snapshot restore")
		}
		log.Info().Msg("state hash verified against snapshot")
	}

	// --- Go live ---

	rail.Arm()
	live.Store(true)

	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	go runIngestionLoop(ctx, rawChan, eng, log)

	sched := scheduler.New(eng, log)
	if err := sched.Start(ctx, scheduler.Config{
		PricePollCron: cfg.Schedule.PricePollCron,
		RebalanceCron: cfg.Schedule.RebalanceCron,
		SettleCron:    cfg.Schedule.SettleCron,
	}); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	go runPeriodicSnapshots(ctx, eng, snapshots, cfg.Engine.SnapshotInterval, metrics, log)
	go runChannelGauges(ctx, metrics, persistChan, projectionChan, workerChan, projUpdateChan, rawChan)

	// --- HTTP surfaces ---

	queryMux := http.NewServeMux()
	query.NewHTTPServer(query.NewService(eng, reg), metrics, log).Register(queryMux)
	queryServer := &http.Server{Addr: cfg.HTTP.QueryAddr, Handler: queryMux}
	go func() {
		log.Info().Str("addr", cfg.HTTP.QueryAddr).Msg("query server listening")
		if err := queryServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("query server")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.HTTP.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("metrics server")
		}
	}()

	health.SetReady(true)
	log.Info().
		Int64("sequence", eng.Sequence()).
		Int("replayed", replayed).
		Msg("vault engine running")

	// --- Shutdown ---

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")
	health.SetReady(false)

	// Stop producers first, then snapshot quiesced state, then drain
	// the persistence pipeline before pulling connections.
	subscriber.Stop()
	sched.Stop()

	takeSnapshot(context.Background(), eng, snapshots, metrics, log)

	close(persistChan)
	close(projectionChan)
	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		log.Error().Msg("persistence drain timed out")
	}
	select {
	case <-projWorkerDone:
	case <-time.After(10 * time.Second):
		log.Error().Msg("projection drain timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := queryServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("query server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}

	cancel()
	<-publisherDone
	log.Info().Msg("vault engine stopped")
}

// runIngestionLoop converts raw NATS messages into typed events and
// feeds them to the engine. A single goroutine keeps per-connection
// ordering; acks happen only after the engine accepted or terminally
// rejected the event.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, eng *engine.Engine, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := resolveEventType(raw.Subject)
			if eventType == "" {
				log.Warn().Str("subject", raw.Subject).Msg("no event type for subject")
				raw.AckFunc()
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				// Malformed payloads never parse on redelivery either.
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("event parse failed")
				raw.AckFunc()
				continue
			}

			if err := eng.ProcessEvent(ctx, evt); err != nil {
				if errors.Is(err, engine.ErrPaused) {
					log.Info().Str("type", eventType).Msg("event rejected while paused")
					raw.AckFunc()
					continue
				}
				// Sequence gaps heal once the missing event lands, so
				// let redelivery retry this one.
				log.Warn().Err(err).Str("type", eventType).Msg("event rejected")
				raw.NakFunc()
				continue
			}
			raw.AckFunc()
		}
	}
}

// resolveEventType maps a NATS subject to its event type by longest
// matching subject prefix.
func resolveEventType(subject string) string {
	best := ""
	bestLen := -1
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			best = cfg.EventType
			bestLen = len(prefix)
		}
	}
	return best
}

// replayEvents feeds persisted envelopes back through the engine in
// sequence order. Any decode or apply failure aborts startup: a log
// the engine cannot reproduce is corrupt.
func replayEvents(
	ctx context.Context,
	snapshots *persistence.SnapshotManager,
	eng *engine.Engine,
	from int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (int, error) {
	start := time.Now()
	replayed := 0
	next := from
	for {
		rows, err := snapshots.LoadEventsFrom(ctx, next, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", next, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			evt, err := event.Decode(row.EventType, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			if err := eng.ProcessEvent(ctx, evt); err != nil {
				return replayed, fmt.Errorf("replay sequence %d (%s): %w", row.Sequence, row.EventType, err)
			}
			replayed++
			metrics.ReplayEventsTotal.Inc()
		}
		next = rows[len(rows)-1].Sequence + 1
	}
	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	if replayed > 0 {
		log.Info().
			Int("events", replayed).
			Dur("took", time.Since(start)).
			Int64("sequence", eng.Sequence()).
			Msg("event log replayed")
	}
	return replayed, nil
}

// runPeriodicSnapshots checks every 10s whether enough events have
// accumulated since the last snapshot.
func runPeriodicSnapshots(
	ctx context.Context,
	eng *engine.Engine,
	snapshots *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	lastSnap := eng.Sequence() - 1

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if eng.Sequence()-1-lastSnap < interval {
				continue
			}
			if seq, ok := takeSnapshot(ctx, eng, snapshots, metrics, log); ok {
				lastSnap = seq
			}
		}
	}
}

// takeSnapshot persists the current engine state and marks it verified.
// The hash chain makes the snapshot self-certifying: it was produced by
// the same state that signed the last envelope.
func takeSnapshot(
	ctx context.Context,
	eng *engine.Engine,
	snapshots *persistence.SnapshotManager,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (int64, bool) {
	state := eng.CreateSnapshotState()
	if state.Sequence < 0 {
		return 0, false
	}

	start := time.Now()
	data := toSnapshotData(state)
	if err := snapshots.SaveSnapshot(ctx, data); err != nil {
		log.Error().Err(err).Int64("sequence", state.Sequence).Msg("snapshot save failed")
		return 0, false
	}
	if err := snapshots.MarkVerified(ctx, state.Sequence); err != nil {
		log.Error().Err(err).Int64("sequence", state.Sequence).Msg("snapshot verify mark failed")
		return 0, false
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	log.Info().
		Int64("sequence", state.Sequence).
		Dur("took", time.Since(start)).
		Msg("snapshot taken")
	return state.Sequence, true
}

// runChannelGauges samples pipeline channel depths for backpressure
// visibility.
func runChannelGauges(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan, projectionChan chan engine.Output,
	workerChan chan persistence.EngineOutput,
	projUpdateChan chan projection.Update,
	rawChan chan ingestion.RawEvent,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("worker", len(workerChan), cap(workerChan))
			metrics.SetChannelMetrics("projection_tables", len(projUpdateChan), cap(projUpdateChan))
			metrics.SetChannelMetrics("ingest", len(rawChan), cap(rawChan))
		}
	}
}

// toPersistOutput converts an engine output into persistence rows.
func toPersistOutput(out engine.Output) persistence.EngineOutput {
	env := out.Envelope
	po := persistence.EngineOutput{
		EventRow: persistence.EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        env.Payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}
	if out.Queued != nil {
		po.Withdrawals = append(po.Withdrawals, withdrawalRow(*out.Queued))
	}
	if out.Settled != nil {
		po.Withdrawals = append(po.Withdrawals, withdrawalRow(*out.Settled))
	}
	return po
}

func withdrawalRow(req bridge.WithdrawalRequest) persistence.WithdrawalRow {
	row := persistence.WithdrawalRow{
		WithdrawalID: req.ID.String(),
		Owner:        req.Owner,
		SharesBurned: req.SharesBurned.String(),
		DueAmount:    int64(req.DueFull),
		FeeBps:       req.FeeBpsSnapshot,
		RequestedAt:  req.RequestedAt,
		Settled:      req.Settled,
	}
	if req.Settled {
		row.SettledAt = sql.NullTime{Time: req.SettledAt, Valid: true}
	}
	return row
}

// toProjectionUpdate converts an engine output into the projection
// worker's row shape.
func toProjectionUpdate(out engine.Output) projection.Update {
	env := out.Envelope
	u := projection.Update{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
	}
	if !out.NAV.IsZero() || !out.TotalShares.IsZero() {
		u.NAV = out.NAV.String()
		u.PPS = out.PPS.String()
		u.TotalShares = out.TotalShares.String()
	}
	if out.Queued != nil {
		u.Withdrawals = append(u.Withdrawals, projectionStatus(*out.Queued))
	}
	if out.Settled != nil {
		u.Withdrawals = append(u.Withdrawals, projectionStatus(*out.Settled))
	}
	return u
}

func projectionStatus(req bridge.WithdrawalRequest) projection.WithdrawalStatus {
	return projection.WithdrawalStatus{
		WithdrawalID: req.ID.String(),
		Owner:        req.Owner,
		DueAmount:    int64(req.DueFull),
		FeeBps:       req.FeeBpsSnapshot,
		Settled:      req.Settled,
	}
}

func toPublishable(env *event.Envelope) ingestion.PublishableEvent {
	return ingestion.PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}
}

// toSnapshotData converts engine state to its serialized form.
func toSnapshotData(s *engine.SnapshotState) *persistence.SnapshotData {
	balances := make(map[string]string, len(s.Balances))
	for owner, shares := range s.Balances {
		balances[owner] = shares.String()
	}
	positions := make(map[string]int64, len(s.RemotePositions))
	for id, amount := range s.RemotePositions {
		positions[strconv.FormatUint(uint64(id), 10)] = int64(amount)
	}
	readings := make([]persistence.ReadingSnap, 0, len(s.Readings))
	for _, r := range s.Readings {
		readings = append(readings, persistence.ReadingSnap{
			AssetID:      uint16(r.Asset),
			Price:        int64(r.Price),
			ObservedAtUs: r.ObservedAt.UnixMicro(),
			Version:      r.Version,
		})
	}
	queue := make([]persistence.WithdrawalSnap, 0, len(s.Queue))
	for _, req := range s.Queue {
		queue = append(queue, persistence.WithdrawalSnap{
			WithdrawalID:  req.ID.String(),
			Owner:         req.Owner,
			SharesBurned:  req.SharesBurned.String(),
			DueAmount:     int64(req.DueFull),
			FeeBps:        req.FeeBpsSnapshot,
			RequestedAtUs: req.RequestedAt.UnixMicro(),
		})
	}

	return &persistence.SnapshotData{
		Sequence:         s.Sequence,
		StateHash:        append([]byte(nil), s.StateHash[:]...),
		Paused:           s.Paused,
		Balances:         balances,
		TotalShares:      s.TotalShares.String(),
		Cash:             int64(s.Cash),
		RemotePositions:  positions,
		RemoteFunding:    int64(s.RemoteFunding),
		Readings:         readings,
		Queue:            queue,
		EpochStartUs:     s.EpochStart.UnixMicro(),
		EpochTransferred: int64(s.EpochTransferred),
		PendingDeploy:    int64(s.PendingDeploy),
		PendingRecall:    int64(s.PendingRecall),
		SequenceState:    s.SequenceState,
		IdempotencyKeys:  s.IdempotencyKeys,
		CreatedAt:        time.Now(),
	}
}

// fromSnapshotData converts a serialized snapshot back to engine state.
func fromSnapshotData(d *persistence.SnapshotData) (*engine.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("state hash length %d, want 32", len(d.StateHash))
	}
	var stateHash [32]byte
	copy(stateHash[:], d.StateHash)

	balances := make(map[string]units.Shares, len(d.Balances))
	for owner, raw := range d.Balances {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("balance for %q: malformed shares %q", owner, raw)
		}
		balances[owner] = units.SharesFromRaw(v)
	}
	total, ok := new(big.Int).SetString(d.TotalShares, 10)
	if !ok {
		return nil, fmt.Errorf("malformed total shares %q", d.TotalShares)
	}

	positions := make(map[asset.ID]units.FullAmount, len(d.RemotePositions))
	for key, amount := range d.RemotePositions {
		id, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("remote position key %q: %w", key, err)
		}
		positions[asset.ID(id)] = units.FullAmount(amount)
	}

	readings := make([]oracle.Reading, 0, len(d.Readings))
	for _, r := range d.Readings {
		readings = append(readings, oracle.Reading{
			Asset:      asset.ID(r.AssetID),
			Price:      units.PriceUSD1e8(r.Price),
			ObservedAt: time.UnixMicro(r.ObservedAtUs),
			Version:    r.Version,
		})
	}

	queue := make([]bridge.WithdrawalRequest, 0, len(d.Queue))
	for _, w := range d.Queue {
		id, err := uuid.Parse(w.WithdrawalID)
		if err != nil {
			return nil, fmt.Errorf("queued withdrawal id %q: %w", w.WithdrawalID, err)
		}
		shares, ok := new(big.Int).SetString(w.SharesBurned, 10)
		if !ok {
			return nil, fmt.Errorf("queued withdrawal %s: malformed shares %q", w.WithdrawalID, w.SharesBurned)
		}
		queue = append(queue, bridge.WithdrawalRequest{
			ID:             id,
			Owner:          w.Owner,
			SharesBurned:   units.SharesFromRaw(shares),
			DueFull:        units.FullAmount(w.DueAmount),
			FeeBpsSnapshot: w.FeeBps,
			RequestedAt:    time.UnixMicro(w.RequestedAtUs),
		})
	}

	return &engine.SnapshotState{
		Sequence:         d.Sequence,
		StateHash:        stateHash,
		Paused:           d.Paused,
		Balances:         balances,
		TotalShares:      units.SharesFromRaw(total),
		Cash:             units.FullAmount(d.Cash),
		RemotePositions:  positions,
		RemoteFunding:    units.FullAmount(d.RemoteFunding),
		Readings:         readings,
		Queue:            queue,
		EpochStart:       time.UnixMicro(d.EpochStartUs),
		EpochTransferred: units.FullAmount(d.EpochTransferred),
		PendingDeploy:    units.FullAmount(d.PendingDeploy),
		PendingRecall:    units.FullAmount(d.PendingRecall),
		SequenceState:    d.SequenceState,
		IdempotencyKeys:  d.IdempotencyKeys,
	}, nil
}
