package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics tracks transaction processing for the marketplace and
// system programs.
type MarketplaceMetrics struct {
	transactions   *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	volume         prometheus.Counter
	activeListings prometheus.Gauge
}

var (
	marketplaceOnce     sync.Once
	marketplaceRegistry *MarketplaceMetrics
)

// Marketplace returns the process-wide registry.
func Marketplace() *MarketplaceMetrics {
	marketplaceOnce.Do(func() {
		marketplaceRegistry = &MarketplaceMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_transactions_total",
				Help: "Count of processed transactions by instruction and outcome.",
			}, []string{"instruction", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_rejections_total",
				Help: "Count of rejected transactions by instruction and error code.",
			}, []string{"instruction", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketplace_transaction_duration_seconds",
				Help:    "Latency distribution for transaction execution.",
				Buckets: prometheus.DefBuckets,
			}, []string{"instruction"}),
			volume: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_settled_volume_units",
				Help: "Native currency settled through Buy, in smallest units.",
			}),
			activeListings: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "marketplace_active_listings",
				Help: "Number of listings currently held in escrow.",
			}),
		}
		prometheus.MustRegister(
			marketplaceRegistry.transactions,
			marketplaceRegistry.rejections,
			marketplaceRegistry.latency,
			marketplaceRegistry.volume,
			marketplaceRegistry.activeListings,
		)
	})
	return marketplaceRegistry
}

// ObserveTransaction records one processed transaction. code is empty on
// success.
func (m *MarketplaceMetrics) ObserveTransaction(instruction, code string, duration time.Duration) {
	if m == nil {
		return
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "unknown"
	}
	outcome := "success"
	if code != "" {
		outcome = "rejected"
		m.rejections.WithLabelValues(instruction, code).Inc()
	}
	m.transactions.WithLabelValues(instruction, outcome).Inc()
	m.latency.WithLabelValues(instruction).Observe(duration.Seconds())
}

// AddSettledVolume adds a completed sale price.
func (m *MarketplaceMetrics) AddSettledVolume(units uint64) {
	if m == nil {
		return
	}
	m.volume.Add(float64(units))
}

// SetActiveListings publishes the indexed count of active listings.
func (m *MarketplaceMetrics) SetActiveListings(n int) {
	if m == nil {
		return
	}
	m.activeListings.Set(float64(n))
}
