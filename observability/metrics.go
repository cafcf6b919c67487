package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	inflight  *prometheus.GaugeVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity per module.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nftmarket",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
			inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nftmarket",
				Subsystem: "api",
				Name:      "inflight_requests",
				Help:      "Requests currently being served per module.",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
			moduleRegistry.inflight,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	route = labelOrUnknown(route)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(module, route, outcome).Inc()
	m.latency.WithLabelValues(module, route).Observe(duration.Seconds())
}

// Begin marks a request in flight until the returned func is called.
func (m *moduleMetrics) Begin(module string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.inflight.WithLabelValues(labelOrUnknown(module))
	gauge.Inc()
	return gauge.Dec
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), reason).Inc()
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
