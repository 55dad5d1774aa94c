package subsync

import "time"

// Metrics defines the interface for tracking reconciliation and cache operations.
type Metrics interface {
	// RecordReconciliation records a reconciliation attempt.
	// kind is "subscription" or "order"; status is "success", "invalid", "unresolved" or "error".
	RecordReconciliation(kind, provider, status string, duration time.Duration)

	// RecordItemsDeleted records how many stale items a reconciliation removed.
	RecordItemsDeleted(kind string, count int)

	// RecordInvalidation records an invalidation call for the given number of tags.
	RecordInvalidation(tags int, err error)

	// RecordCacheHit records a cache hit for a cached read path.
	RecordCacheHit(read string)

	// RecordCacheMiss records a cache miss for a cached read path.
	RecordCacheMiss(read string)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconciliation(_, _, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordItemsDeleted(_ string, _ int)                    {}
func (n *NoopMetrics) RecordInvalidation(_ int, _ error)                     {}
func (n *NoopMetrics) RecordCacheHit(_ string)                               {}
func (n *NoopMetrics) RecordCacheMiss(_ string)                              {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)              {}
