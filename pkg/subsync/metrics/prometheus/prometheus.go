package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements subsync.Metrics using Prometheus.
type Metrics struct {
	reconciliationsTotal       *prometheus.CounterVec
	reconciliationDuration     *prometheus.HistogramVec
	itemsDeletedTotal          *prometheus.CounterVec
	invalidationsTotal         *prometheus.CounterVec
	invalidatedTags            prometheus.Histogram
	cacheHitsTotal             *prometheus.CounterVec
	cacheMissesTotal           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Total number of snapshot reconciliations by outcome.",
		}, []string{"kind", "provider", "status"}),

		reconciliationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Latency of snapshot reconciliations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		itemsDeletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_items_deleted_total",
			Help:      "Total number of stale items removed by reconciliations.",
		}, []string{"kind"}),

		invalidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of cache invalidation calls.",
		}, []string{"success"}),

		invalidatedTags: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_invalidation_tags",
			Help:      "Number of distinct tags per invalidation call.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),

		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		}, []string{"read"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		}, []string{"read"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordReconciliation(kind, provider, status string, duration time.Duration) {
	m.reconciliationsTotal.WithLabelValues(kind, provider, status).Inc()
	m.reconciliationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordItemsDeleted(kind string, count int) {
	if count > 0 {
		m.itemsDeletedTotal.WithLabelValues(kind).Add(float64(count))
	}
}

func (m *Metrics) RecordInvalidation(tags int, err error) {
	m.invalidationsTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	m.invalidatedTags.Observe(float64(tags))
}

func (m *Metrics) RecordCacheHit(read string) {
	m.cacheHitsTotal.WithLabelValues(read).Inc()
}

func (m *Metrics) RecordCacheMiss(read string) {
	m.cacheMissesTotal.WithLabelValues(read).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}
