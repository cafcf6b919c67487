package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking published ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events published segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of event deliveries discarded for slow subscribers.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordPublished increments the counter for the supplied event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}

// RecordDropped adds n discarded deliveries.
func (m *eventMetrics) RecordDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}
