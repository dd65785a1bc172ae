package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PredictLedger.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	CommandSequenceGap    *prometheus.CounterVec
	CommandOutOfOrder     *prometheus.CounterVec

	// --- Markets ---
	MarketsCreated  prometheus.Counter
	MarketsSettled  *prometheus.CounterVec // outcome: resolved, voided, closed
	TradeVolume     *prometheus.CounterVec // side
	SwapFees        prometheus.Counter
	Payouts         *prometheus.CounterVec // kind: winnings, refund, creator_fee, treasury_fee
	StaleReclaimed  prometheus.Counter
	OpenMarkets     prometheus.Gauge

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	SnapshotArchived  *prometheus.CounterVec // status
	ReplayCommands    prometheus.Counter

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Lease ---
	LeaseHeld prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_commands_rejected_total",
			Help: "Commands rejected, by error kind",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_core_sequence",
			Help: "Next global sequence number",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		CommandSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_command_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		CommandOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_command_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		MarketsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_markets_created_total",
			Help: "Markets created",
		}),

		MarketsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_markets_settled_total",
			Help: "Markets leaving Open, and markets closed",
		}, []string{"outcome"}),

		TradeVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_trade_volume_total",
			Help: "Value traded through the AMM",
		}, []string{"side", "direction"}),

		SwapFees: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_swap_fees_total",
			Help: "Swap fees charged",
		}),

		Payouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_payouts_total",
			Help: "Value paid out of market vaults",
		}, []string{"kind"}),

		StaleReclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_stale_markets_reclaimed_total",
			Help: "Markets voided by the stale reclaim path",
		}),

		OpenMarkets: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_open_markets",
			Help: "Markets currently open",
		}),

		PersistCommandsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_commands_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		SnapshotArchived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_snapshot_archived_total",
			Help: "Snapshot uploads to object storage",
		}, []string{"status"}),

		ReplayCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		LeaseHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_writer_lease_held",
			Help: "1 while this process holds the writer lease",
		}),
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
