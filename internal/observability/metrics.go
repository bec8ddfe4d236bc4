// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedCalls        *prometheus.CounterVec
	FeedCallLatency  *prometheus.HistogramVec
	FinishedSignals  *prometheus.CounterVec
	TransactionsSeen *prometheus.CounterVec

	// Metadata metrics
	MetadataFetches *prometheus.CounterVec

	// Pipeline metrics
	RawStaged         *prometheus.CounterVec
	TransfersInserted *prometheus.CounterVec
	TransfersSkipped  *prometheus.CounterVec
	WalletDeltas      *prometheus.CounterVec
	PhaseDuration     *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	LastSuccessfulRun *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Registration is global, so call it once per namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rewards"
	}

	return &Metrics{
		FeedCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "calls_total",
			Help:      "Upstream API calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		FeedCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "call_latency_seconds",
			Help:      "Upstream API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		FinishedSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "finished_signals_total",
			Help:      "End-of-history signals observed by distributor",
		}, []string{"distributor"}),
		TransactionsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "transactions_total",
			Help:      "Transactions returned by the feed by distributor",
		}, []string{"distributor"}),

		MetadataFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "metadata_fetches_total",
			Help:      "Token metadata lookups by outcome",
		}, []string{"outcome"}),

		RawStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "raw_staged_total",
			Help:      "Raw transactions written to staging",
		}, []string{"distributor"}),
		TransfersInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transfers_inserted_total",
			Help:      "Transfer records inserted by distributor and stage",
		}, []string{"distributor", "stage"}),
		TransfersSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transfers_skipped_total",
			Help:      "Transfers dropped during normalization by reason",
		}, []string{"reason"}),
		WalletDeltas: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "wallet_deltas_total",
			Help:      "Wallet total increments applied by distributor",
		}, []string{"distributor"}),
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of bootstrap phases and incremental runs",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}, []string{"phase"}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by kind and status",
		}, []string{"kind", "status"}),
		LastSuccessfulRun: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of the last successful run by distributor",
		}, []string{"distributor"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeedCall records an upstream call outcome and latency.
func RecordFeedCall(endpoint string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.FeedCalls.WithLabelValues(endpoint, outcome).Inc()
	DefaultMetrics.FeedCallLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordFinishedSignal counts one end-of-history signal.
func RecordFinishedSignal(distributor string) {
	DefaultMetrics.FinishedSignals.WithLabelValues(distributor).Inc()
}

// RecordTransactions counts transactions returned by the feed.
func RecordTransactions(distributor string, n int) {
	DefaultMetrics.TransactionsSeen.WithLabelValues(distributor).Add(float64(n))
}

// RecordMetadataFetch records a token metadata lookup ("ok", "fallback").
func RecordMetadataFetch(outcome string) {
	DefaultMetrics.MetadataFetches.WithLabelValues(outcome).Inc()
}

// RecordRawStaged counts raw transactions written to staging.
func RecordRawStaged(distributor string, n int) {
	DefaultMetrics.RawStaged.WithLabelValues(distributor).Add(float64(n))
}

// RecordTransfersInserted counts transfer rows written ("staging", "production").
func RecordTransfersInserted(distributor, stage string, n int) {
	DefaultMetrics.TransfersInserted.WithLabelValues(distributor, stage).Add(float64(n))
}

// RecordTransferSkipped counts a dropped transfer or transaction.
func RecordTransferSkipped(reason string) {
	DefaultMetrics.TransfersSkipped.WithLabelValues(reason).Inc()
}

// RecordWalletDeltas counts wallet increments applied.
func RecordWalletDeltas(distributor string, n int) {
	DefaultMetrics.WalletDeltas.WithLabelValues(distributor).Add(float64(n))
}

// RecordPhase records how long a phase took.
func RecordPhase(phase string, seconds float64) {
	DefaultMetrics.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordRun records a finished run ("bootstrap", "update") and its status.
func RecordRun(kind, status string) {
	DefaultMetrics.RunsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSuccess marks the time of a distributor's last successful run.
func RecordSuccess(distributor string, unixSeconds float64) {
	DefaultMetrics.LastSuccessfulRun.WithLabelValues(distributor).Set(unixSeconds)
}
