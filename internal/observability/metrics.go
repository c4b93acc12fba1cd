package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault engine.
type Metrics struct {
	// --- Engine processing ---
	EngineEventsApplied  *prometheus.CounterVec
	EngineEventsRejected *prometheus.CounterVec
	EngineEventDuration  *prometheus.HistogramVec
	EngineStateHashDur   prometheus.Histogram
	EngineSequence       prometheus.Gauge
	EnginePaused         prometheus.Gauge

	// --- Vault accounting ---
	DepositsTotal     prometheus.Counter
	WithdrawalsTotal  prometheus.Counter
	NAVDollars        prometheus.Gauge
	PricePerShareUSD  prometheus.Gauge
	SharesOutstanding prometheus.Gauge
	LocalCashFull     prometheus.Gauge

	// --- Oracle ---
	OracleReadings   *prometheus.CounterVec
	OracleRejections *prometheus.CounterVec
	OraclePrice      *prometheus.GaugeVec

	// --- Rebalance ---
	RebalanceCycles  prometheus.Counter
	RebalanceIntents *prometheus.CounterVec
	RebalanceDrift   *prometheus.GaugeVec

	// --- Bridge & queue ---
	BridgeTransfers   *prometheus.CounterVec
	BridgeRateLimited prometheus.Counter
	BridgeEpochUsed   prometheus.Gauge
	QueueDepth        prometheus.Gauge
	QueuePendingFull  prometheus.Gauge
	QueueSettlements  prometheus.Counter

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	ProjectionUpdates   prometheus.Counter
	ProjectionLastSeq   prometheus.Gauge
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence & snapshot ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	SnapshotTaken        prometheus.Counter
	SnapshotDuration     prometheus.Histogram
	SnapshotLastSeq      prometheus.Gauge
	ReplayEventsTotal    prometheus.Counter
	ReplayDuration       prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EngineEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_engine_events_applied_total",
			Help: "Events successfully applied by the engine",
		}, []string{"event_type"}),

		EngineEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_engine_events_rejected_total",
			Help: "Events rejected (duplicate, gap, validation, paused)",
		}, []string{"event_type", "reason"}),

		EngineEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_engine_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		EngineStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_engine_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_engine_sequence",
			Help: "Current global sequence number",
		}),

		EnginePaused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_engine_paused",
			Help: "1 while the vault is paused",
		}),

		DepositsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_total",
			Help: "Deposits minted",
		}),

		WithdrawalsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_withdrawals_total",
			Help: "Withdrawals burned (paid or queued)",
		}),

		NAVDollars: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_nav_dollars",
			Help: "Net asset value in whole dollars",
		}),

		PricePerShareUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_price_per_share_usd",
			Help: "Price per share in USD",
		}),

		SharesOutstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_shares_outstanding",
			Help: "Total shares outstanding (whole shares)",
		}),

		LocalCashFull: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_local_cash_full_units",
			Help: "Local funding cash in full units",
		}),

		OracleReadings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_readings_total",
			Help: "Accepted oracle readings",
		}, []string{"asset"}),

		OracleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_rejections_total",
			Help: "Rejected oracle readings (zero, deviation, source)",
		}, []string{"asset", "reason"}),

		OraclePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_oracle_price_1e8",
			Help: "Last valid price in 1e8 USD scale",
		}, []string{"asset"}),

		RebalanceCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_rebalance_cycles_total",
			Help: "Rebalance planning passes",
		}),

		RebalanceIntents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rebalance_intents_total",
			Help: "Trade intents emitted",
		}, []string{"asset", "side"}),

		RebalanceDrift: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_rebalance_drift_bps",
			Help: "Per-asset drift from target at last cycle",
		}, []string{"asset"}),

		BridgeTransfers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_bridge_transfers_total",
			Help: "Accepted cross-venue transfers",
		}, []string{"direction"}),

		BridgeRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_bridge_rate_limited_total",
			Help: "Transfers rejected by the epoch cap",
		}),

		BridgeEpochUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_bridge_epoch_used_full_units",
			Help: "Volume counted against the current epoch",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_withdrawal_queue_depth",
			Help: "Pending withdrawal requests",
		}),

		QueuePendingFull: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_withdrawal_queue_pending_full_units",
			Help: "Sum of pending due amounts in full units",
		}),

		QueueSettlements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_withdrawal_queue_settlements_total",
			Help: "Queued withdrawals settled",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		ProjectionUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_projection_updates_total",
			Help: "Updates applied to projection tables",
		}),

		ProjectionLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_projection_last_sequence",
			Help: "Last sequence applied to projection tables",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
