// Package metrics provides Prometheus metrics for the ERP mirror.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ERP mirror.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	LastSuccess   prometheus.Gauge

	// Extraction metrics
	RecordsExtracted   *prometheus.CounterVec
	RecordsRejected    *prometheus.CounterVec
	SourceErrors       *prometheus.CounterVec
	ValidationWarnings *prometheus.CounterVec

	// Transport metrics
	BatchesTotal    *prometheus.CounterVec
	BatchRecords    *prometheus.HistogramVec
	DirectFallbacks prometheus.Counter
	RetryAttempts   *prometheus.CounterVec
	BreakerOpen     prometheus.Gauge

	// Receiver
	SyncRequests *prometheus.CounterVec

	// Archive
	ArchiveErrors prometheus.Counter
}

var defaultMetrics *Metrics

// Init initializes the global metrics on the default registry.
// Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// New builds a metrics set registered on reg without touching the global.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "erp_mirror"
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of replication cycles by result",
			},
			[]string{"result"},
		),
		CycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Time to run one extract and replicate cycle",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"transport"},
		),
		LastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful cycle",
			},
		),
		RecordsExtracted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_extracted_total",
				Help:      "Total number of records extracted from the ERP",
			},
			[]string{"class"},
		),
		RecordsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_rejected_total",
				Help:      "Total number of source rows dropped during normalization",
			},
			[]string{"class"},
		),
		SourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of failed source queries",
			},
			[]string{"class"},
		),
		ValidationWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_warnings_total",
				Help:      "Total number of snapshot validation warnings",
			},
			[]string{"kind"},
		),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batches written by transport, class and outcome",
			},
			[]string{"transport", "class", "outcome"},
		),
		BatchRecords: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_records",
				Help:      "Number of records per batch",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 10), // 10 to ~5k
			},
			[]string{"transport"},
		),
		DirectFallbacks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "direct_fallbacks_total",
				Help:      "Total number of cycles that fell back from direct write to HTTP",
			},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		BreakerOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_breaker_open",
				Help:      "1 while the HTTP push circuit breaker is open",
			},
		),
		SyncRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_requests_received_total",
				Help:      "Total number of sync requests handled by the receiver",
			},
			[]string{"outcome"},
		),
		ArchiveErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Total number of failed snapshot archive writes",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// RecordCycle records the outcome and duration of a cycle.
func (m *Metrics) RecordCycle(result, transport string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.WithLabelValues(transport).Observe(d.Seconds())
	if result == "success" {
		m.LastSuccess.SetToCurrentTime()
	}
}

// RecordExtracted records extracted and rejected row counts for a class.
func (m *Metrics) RecordExtracted(class string, records, rejected int) {
	m.RecordsExtracted.WithLabelValues(class).Add(float64(records))
	if rejected > 0 {
		m.RecordsRejected.WithLabelValues(class).Add(float64(rejected))
	}
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(class string) {
	m.SourceErrors.WithLabelValues(class).Inc()
}

// IncValidationWarnings increments the validation warnings counter.
func (m *Metrics) IncValidationWarnings(kind string) {
	m.ValidationWarnings.WithLabelValues(kind).Inc()
}

// RecordBatch records one batch write.
func (m *Metrics) RecordBatch(transport, class, outcome string, records int) {
	m.BatchesTotal.WithLabelValues(transport, class, outcome).Inc()
	m.BatchRecords.WithLabelValues(transport).Observe(float64(records))
}

// IncDirectFallbacks increments the direct fallback counter.
func (m *Metrics) IncDirectFallbacks() {
	m.DirectFallbacks.Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// SetBreakerOpen records the circuit breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

// RecordReceived records a receiver request outcome.
func (m *Metrics) RecordReceived(outcome string) {
	m.SyncRequests.WithLabelValues(outcome).Inc()
}

// IncArchiveErrors increments the archive error counter.
func (m *Metrics) IncArchiveErrors() {
	m.ArchiveErrors.Inc()
}
