package observability

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableLend.
type Metrics struct {
	// --- Engine ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Ledger gauges ---
	TotalCollateral prometheus.Gauge
	TotalPrincipal  prometheus.Gauge
	RewardsPerToken prometheus.Gauge

	// --- Rewards & liquidation ---
	Harvests            prometheus.Counter
	Liquidations        prometheus.Counter
	LiquidatedPositions prometheus.Counter

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Ingestion ---
	BusMessages          *prometheus.CounterVec
	BusDuplicatesDropped *prometheus.CounterVec
	RateUpdates          prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

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
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_ops_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"event_type"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_ops_rejected_total",
			Help: "Operations rejected before commit",
		}, []string{"op"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stablelend_op_duration_seconds",
			Help:    "End-to-end operation duration including external calls",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_sequence",
			Help: "Current global sequence number",
		}),

		TotalCollateral: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_total_collateral",
			Help: "Sum of all account collateral (WAD units, approximate)",
		}),

		TotalPrincipal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_total_principal",
			Help: "Sum of all account principal (WAD units, approximate)",
		}),

		RewardsPerToken: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_rewards_per_token",
			Help: "Global reward accumulator (WAD, approximate)",
		}),

		Harvests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_harvests_total",
			Help: "Standalone harvest operations committed",
		}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_liquidations_total",
			Help: "Liquidation batches committed",
		}),

		LiquidatedPositions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_liquidated_positions_total",
			Help: "Positions closed across all liquidations",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stablelend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stablelend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stablelend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		BusMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_bus_messages_total",
			Help: "Bus messages received",
		}, []string{"subject"}),

		BusDuplicatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_bus_duplicates_dropped_total",
			Help: "Redelivered bus messages dropped by the dedup cache",
		}, []string{"subject"}),

		RateUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_rate_updates_total",
			Help: "Oracle rate updates accepted",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stablelend_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stablelend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stablelend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stablelend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stablelend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stablelend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stablelend_query_duration_seconds",
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

// ObserveTotals pushes the ledger's global amounts as gauges. Lossy float
// conversion; exact values live in the event log.
func (m *Metrics) ObserveTotals(totalCollateral, totalPrincipal, rewardsPerToken *uint256.Int) {
	m.TotalCollateral.Set(approx(totalCollateral))
	m.TotalPrincipal.Set(approx(totalPrincipal))
	m.RewardsPerToken.Set(approx(rewardsPerToken))
}

func approx(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
