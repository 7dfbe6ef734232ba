// Package observability provides Prometheus metrics and the ops HTTP surface.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TransactionsStored   *prometheus.CounterVec
	TransactionsDropped  *prometheus.CounterVec
	DuplicatesSkipped    *prometheus.CounterVec
	SyncBatches          *prometheus.CounterVec
	RangeBisections      *prometheus.CounterVec
	BlockNotFoundRetries *prometheus.CounterVec
	LiveBufferSize       *prometheus.GaugeVec
	SyncedBlock          *prometheus.GaugeVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Candle metrics
	CandlesClosed       *prometheus.CounterVec
	LateTransactions    *prometheus.CounterVec
	AggregationErrors   *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	LiveMerges          *prometheus.CounterVec

	// Scheduler metrics
	CandleCloseEvents  *prometheus.CounterVec
	CandleCloseDropped *prometheus.CounterVec

	// Pipeline metrics
	PipelineState    *prometheus.GaugeVec
	PipelineFailures *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dex_candles"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		TransactionsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_stored_total",
			Help:      "Total number of normalized transactions stored by source",
		}, []string{"pool", "source"}),
		TransactionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_dropped_total",
			Help:      "Total number of swaps dropped by reason",
		}, []string{"pool", "reason"}),
		DuplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of already stored transactions skipped",
		}, []string{"pool"}),
		SyncBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "sync_batches_total",
			Help:      "Total number of backfill batches by status",
		}, []string{"pool", "status"}),
		RangeBisections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "range_bisections_total",
			Help:      "Total number of block ranges split after an oversized result",
		}, []string{"pool"}),
		BlockNotFoundRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "block_not_found_retries_total",
			Help:      "Total number of range retries after a missing block",
		}, []string{"pool"}),
		LiveBufferSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "live_buffer_size",
			Help:      "Live transactions buffered while backfill runs",
		}, []string{"pool"}),
		SyncedBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "synced_block",
			Help:      "Highest block covered by backfill",
		}, []string{"pool"}),

		// Latency metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Candle metrics
		CandlesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "closed_total",
			Help:      "Total number of closed candles built by kind",
		}, []string{"pool", "interval", "kind"}),
		LateTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "late_transactions_total",
			Help:      "Transactions older than their bucket, folded into the first bucket",
		}, []string{"pool", "interval"}),
		AggregationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "aggregation_errors_total",
			Help:      "Total number of aborted aggregation passes",
		}, []string{"pool", "interval"}),
		AggregationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "aggregation_duration_seconds",
			Help:      "Aggregation pass duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"interval"}),
		LiveMerges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "live_merges_total",
			Help:      "Total number of live candle merge updates",
		}, []string{"pool", "interval"}),

		// Scheduler metrics
		CandleCloseEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "candle_close_events_total",
			Help:      "Total number of candle close events emitted",
		}, []string{"interval"}),
		CandleCloseDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "candle_close_dropped_total",
			Help:      "Candle close events dropped because a subscriber was behind",
		}, []string{"interval"}),

		// Pipeline metrics
		PipelineState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "state",
			Help:      "Current pipeline state per pool (1 for the active state)",
		}, []string{"pool", "state"}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Total number of pool-fatal pipeline failures",
		}, []string{"pool"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordTransactionsStored counts stored transactions by source ("backfill" or "live").
func RecordTransactionsStored(pool, source string, n int) {
	if n > 0 {
		DefaultMetrics.TransactionsStored.WithLabelValues(pool, source).Add(float64(n))
	}
}

// RecordTransactionsDropped counts dropped swaps by reason.
func RecordTransactionsDropped(pool, reason string, n int) {
	if n > 0 {
		DefaultMetrics.TransactionsDropped.WithLabelValues(pool, reason).Add(float64(n))
	}
}

// RecordDuplicatesSkipped counts already stored transactions.
func RecordDuplicatesSkipped(pool string, n int) {
	if n > 0 {
		DefaultMetrics.DuplicatesSkipped.WithLabelValues(pool).Add(float64(n))
	}
}

// RecordSyncBatch counts a backfill batch by status ("ok" or "abandoned").
func RecordSyncBatch(pool, status string) {
	DefaultMetrics.SyncBatches.WithLabelValues(pool, status).Inc()
}

// RecordRangeBisection counts a split of an oversized block range.
func RecordRangeBisection(pool string) {
	DefaultMetrics.RangeBisections.WithLabelValues(pool).Inc()
}

// RecordBlockNotFoundRetry counts a shrunk range retry.
func RecordBlockNotFoundRetry(pool string) {
	DefaultMetrics.BlockNotFoundRetries.WithLabelValues(pool).Inc()
}

// UpdateLiveBufferSize sets the pre-sync live buffer gauge.
func UpdateLiveBufferSize(pool string, size int) {
	DefaultMetrics.LiveBufferSize.WithLabelValues(pool).Set(float64(size))
}

// UpdateSyncedBlock sets the highest block covered by backfill.
func UpdateSyncedBlock(pool string, block uint64) {
	DefaultMetrics.SyncedBlock.WithLabelValues(pool).Set(float64(block))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordCandlesClosed counts closed candles by kind ("trade" or "flat").
func RecordCandlesClosed(pool, interval, kind string, n int) {
	if n > 0 {
		DefaultMetrics.CandlesClosed.WithLabelValues(pool, interval, kind).Add(float64(n))
	}
}

// RecordLateTransactions counts transactions that predate their bucket.
func RecordLateTransactions(pool, interval string, n int) {
	if n > 0 {
		DefaultMetrics.LateTransactions.WithLabelValues(pool, interval).Add(float64(n))
	}
}

// RecordAggregation records an aggregation pass.
func RecordAggregation(pool, interval string, seconds float64, err error) {
	DefaultMetrics.AggregationDuration.WithLabelValues(interval).Observe(seconds)
	if err != nil {
		DefaultMetrics.AggregationErrors.WithLabelValues(pool, interval).Inc()
	}
}

// RecordLiveMerge counts a live candle merge.
func RecordLiveMerge(pool, interval string) {
	DefaultMetrics.LiveMerges.WithLabelValues(pool, interval).Inc()
}

// RecordCandleClose counts an emitted close event.
func RecordCandleClose(interval string) {
	DefaultMetrics.CandleCloseEvents.WithLabelValues(interval).Inc()
}

// RecordCandleCloseDropped counts a close event a subscriber could not take.
func RecordCandleCloseDropped(interval string) {
	DefaultMetrics.CandleCloseDropped.WithLabelValues(interval).Inc()
}

// SetPipelineState marks state as the active state of pool among all states.
func SetPipelineState(pool, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		DefaultMetrics.PipelineState.WithLabelValues(pool, s).Set(v)
	}
}

// RecordPipelineFailure counts a pool-fatal failure.
func RecordPipelineFailure(pool string) {
	DefaultMetrics.PipelineFailures.WithLabelValues(pool).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
