package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "risk_watcher"

// PrometheusMetrics contains all Prometheus metrics for the watcher
type PrometheusMetrics struct {
	// Discovery metrics
	CandidatesDiscoveredTotal *prometheus.CounterVec
	LatestScannedBlock        prometheus.Gauge
	BlocksBehind              prometheus.Gauge

	// Pipeline metrics
	CandidatesProcessedTotal *prometheus.CounterVec
	VerdictsTotal            *prometheus.CounterVec
	FetchFailuresTotal       *prometheus.CounterVec
	FetchDuration            *prometheus.HistogramVec
	BatchDuration            prometheus.Histogram

	// Sink metrics
	DeliveriesTotal       *prometheus.CounterVec
	DeliveryFailuresTotal *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec
	StreamSubscribers     prometheus.Gauge

	// Blacklist metrics
	BlacklistSize            prometheus.Gauge
	BlacklistRefreshFailures prometheus.Counter

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		CandidatesDiscoveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_discovered_total",
				Help:      "Total number of contract deployments discovered",
			},
			[]string{"source"},
		),

		LatestScannedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_scanned_block",
				Help:      "Latest block included in a discovery batch",
			},
		),

		BlocksBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocks_behind",
				Help:      "Number of blocks between the cursor and the chain head",
			},
		),

		CandidatesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_processed_total",
				Help:      "Total number of candidates processed by outcome",
			},
			[]string{"status"},
		),

		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Total number of risk verdicts by level",
			},
			[]string{"level"},
		),

		FetchFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Total number of failed enrichment fetches",
			},
			[]string{"step"},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of enrichment fetches",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of pipeline batches",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of records delivered to sinks",
			},
			[]string{"sink"},
		),

		DeliveryFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_failures_total",
				Help:      "Total number of failed sink deliveries",
			},
			[]string{"sink"},
		),

		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of sink deliveries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		StreamSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscribers",
				Help:      "Number of connected live stream clients",
			},
		),

		BlacklistSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blacklist_size",
				Help:      "Number of addresses in the current blacklist",
			},
		),

		BlacklistRefreshFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blacklist_refresh_failures_total",
				Help:      "Total number of failed blacklist refreshes",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors to RPC nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of RPC requests",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Duration of RPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Number of running goroutines",
			},
		),
	}
}

// RecordCandidatesDiscovered counts candidates from one discovery batch
func (m *PrometheusMetrics) RecordCandidatesDiscovered(source string, count int) {
	m.CandidatesDiscoveredTotal.WithLabelValues(source).Add(float64(count))
}

// UpdateLatestScannedBlock updates the discovery cursor gauge
func (m *PrometheusMetrics) UpdateLatestScannedBlock(blockNumber uint64) {
	m.LatestScannedBlock.Set(float64(blockNumber))
}

// UpdateBlocksBehind updates the blocks behind metric
func (m *PrometheusMetrics) UpdateBlocksBehind(behind uint64) {
	m.BlocksBehind.Set(float64(behind))
}

// RecordCandidateProcessed records a candidate outcome (assessed, skipped, invalid)
func (m *PrometheusMetrics) RecordCandidateProcessed(status string) {
	m.CandidatesProcessedTotal.WithLabelValues(status).Inc()
}

// RecordVerdict records a risk verdict
func (m *PrometheusMetrics) RecordVerdict(level string) {
	m.VerdictsTotal.WithLabelValues(level).Inc()
}

// RecordFetch records an enrichment fetch
func (m *PrometheusMetrics) RecordFetch(step string, duration time.Duration, err error) {
	m.FetchDuration.WithLabelValues(step).Observe(duration.Seconds())
	if err != nil {
		m.FetchFailuresTotal.WithLabelValues(step).Inc()
	}
}

// RecordBatchDuration records the time taken by a pipeline batch
func (m *PrometheusMetrics) RecordBatchDuration(duration time.Duration) {
	m.BatchDuration.Observe(duration.Seconds())
}

// RecordDelivery records a sink delivery attempt
func (m *PrometheusMetrics) RecordDelivery(sink string, duration time.Duration, err error) {
	m.DeliveryDuration.WithLabelValues(sink).Observe(duration.Seconds())
	if err != nil {
		m.DeliveryFailuresTotal.WithLabelValues(sink).Inc()
		return
	}
	m.DeliveriesTotal.WithLabelValues(sink).Inc()
}

// UpdateStreamSubscribers sets the live stream client count
func (m *PrometheusMetrics) UpdateStreamSubscribers(count int) {
	m.StreamSubscribers.Set(float64(count))
}

// UpdateBlacklist records the outcome of a blacklist refresh
func (m *PrometheusMetrics) UpdateBlacklist(size int, refreshErr error) {
	m.BlacklistSize.Set(float64(size))
	if refreshErr != nil {
		m.BlacklistRefreshFailures.Inc()
	}
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
