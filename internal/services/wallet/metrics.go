package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector receives operational counters from the engines.
type MetricsCollector interface {
	RecordOperationDuration(operation string, d time.Duration)
	RecordOperationResult(operation, result string)
	RecordReplay(operation string)
	RecordBalanceChange(currency string, delta int64)
	RecordReconciliation(provider, outcome string)
	RecordError(operation, code string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordOperationResult(string, string)          {}
func (n *NoopMetricsCollector) RecordReplay(string)                           {}
func (n *NoopMetricsCollector) RecordBalanceChange(string, int64)             {}
func (n *NoopMetricsCollector) RecordReconciliation(string, string)           {}
func (n *NoopMetricsCollector) RecordError(string, string)                    {}

// PrometheusMetrics exports the collector's series under the "fxwallet" namespace.
type PrometheusMetrics struct {
	duration       *prometheus.HistogramVec
	results        *prometheus.CounterVec
	replays        *prometheus.CounterVec
	movedMinor     *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	errors         *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fxwallet",
				Name:      "operation_duration_seconds",
				Help:      "Duration of money movement operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxwallet",
				Name:      "operations_total",
				Help:      "Money movement operations by result",
			},
			[]string{"operation", "result"},
		),
		replays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxwallet",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from an existing transaction",
			},
			[]string{"operation"},
		),
		movedMinor: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxwallet",
				Name:      "balance_moved_minor_units_total",
				Help:      "Absolute minor units posted to wallets",
			},
			[]string{"currency", "direction"},
		),
		reconciliation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxwallet",
				Name:      "reconciliation_events_total",
				Help:      "Provider events applied by outcome",
			},
			[]string{"provider", "outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxwallet",
				Name:      "operation_errors_total",
				Help:      "Failed operations by error code",
			},
			[]string{"operation", "code"},
		),
	}
}

func (m *PrometheusMetrics) RecordOperationDuration(operation string, d time.Duration) {
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordOperationResult(operation, result string) {
	m.results.WithLabelValues(operation, result).Inc()
}

func (m *PrometheusMetrics) RecordReplay(operation string) {
	m.replays.WithLabelValues(operation).Inc()
}

func (m *PrometheusMetrics) RecordBalanceChange(currency string, delta int64) {
	direction := "credit"
	if delta < 0 {
		direction, delta = "debit", -delta
	}
	m.movedMinor.WithLabelValues(currency, direction).Add(float64(delta))
}

func (m *PrometheusMetrics) RecordReconciliation(provider, outcome string) {
	m.reconciliation.WithLabelValues(provider, outcome).Inc()
}

func (m *PrometheusMetrics) RecordError(operation, code string) {
	if code == "" {
		code = "internal"
	}
	m.errors.WithLabelValues(operation, code).Inc()
}
