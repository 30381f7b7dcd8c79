package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record JSON-RPC module activity and escrow settlements.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "medchain",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "medchain",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "medchain",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "medchain",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Count of resolved escrow cycles segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.settlements,
		)
	})
	return moduleRegistry
}

// RecordRequest increments the request counter for the supplied method.
func (m *moduleMetrics) RecordRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// RecordError increments the error counter for the supplied method and code.
func (m *moduleMetrics) RecordError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(method), normalizeLabel(code)).Inc()
}

// ObserveLatency records the wall-clock duration of a handler invocation.
func (m *moduleMetrics) ObserveLatency(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(method)).Observe(d.Seconds())
}

// RecordSettlement increments the settlement counter for the supplied outcome
// ("received" or "unsold").
func (m *moduleMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
