package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine and its workers.
type Metrics struct {
	// --- Transaction executor ---
	TxApplied  *prometheus.CounterVec
	TxRejected *prometheus.CounterVec
	TxDuration *prometheus.HistogramVec
	Sequence   prometheus.Gauge

	// --- Domain ---
	ActiveAuctions   prometheus.Gauge
	AuctionTakes     *prometheus.CounterVec
	BadDebt          *prometheus.CounterVec
	FlashLoanVolume  *prometheus.CounterVec
	FlashLoanFees    *prometheus.CounterVec
	OracleReports    *prometheus.CounterVec
	OracleRejections *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	IngestErrors   *prometheus.CounterVec
	PublishDrops   prometheus.Counter

	// --- Persistence ---
	PersistTxWritten      prometheus.Counter
	PersistEntriesWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

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
		TxApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_tx_applied_total",
			Help: "Transactions committed by the executor",
		}, []string{"op"}),

		TxRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_tx_rejected_total",
			Help: "Transactions rolled back to their checkpoint",
		}, []string{"op"}),

		TxDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_tx_duration_seconds",
			Help:    "Time to execute one transaction",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_sequence",
			Help: "Current global sequence number",
		}),

		ActiveAuctions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_active_auctions",
			Help: "Auctions currently in the active state",
		}),

		AuctionTakes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_auction_takes_total",
			Help: "Auction fills processed",
		}, []string{"asset"}),

		BadDebt: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_bad_debt_total",
			Help: "Debt extinguished in excess of auction proceeds, in debt asset base units",
		}, []string{"asset"}),

		FlashLoanVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_flash_loan_volume",
			Help: "Total flash-loan principal, in asset base units",
		}, []string{"asset"}),

		FlashLoanFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_flash_loan_fees",
			Help: "Total flash-loan fees collected, in asset base units",
		}, []string{"asset"}),

		OracleReports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_reports_total",
			Help: "Price reports ingested",
		}, []string{"asset", "feed"}),

		OracleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_rejections_total",
			Help: "Price reads rejected by validation",
		}, []string{"asset", "reason"}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ingest_messages_total",
			Help: "NATS messages consumed",
		}, []string{"subject"}),

		IngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ingest_errors_total",
			Help: "NATS messages failing parse or apply",
		}, []string{"subject"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistTxWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_tx_written_total",
			Help: "Transactions written to Postgres",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_entries_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
