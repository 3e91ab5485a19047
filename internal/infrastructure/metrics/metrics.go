// Package metrics holds the gateway's domain-specific Prometheus
// collectors: cache hit/miss counts per tier, in-flight populate gauges,
// and the origin retry counter. Kept separate from
// internal/infrastructure/http/middleware's generic request-count/latency
// pair, which tracks the HTTP surface rather than the cache/origin
// internals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks CACHE_PROBE/SLOW_PROBE outcomes and populate
// concurrency per tier ("fast" or "slow"). A nil *CacheMetrics is valid and
// every method is then a no-op, so tests can wire services without
// registering collectors on the global registry.
type CacheMetrics struct {
	hits             *prometheus.CounterVec
	misses           *prometheus.CounterVec
	populateInFlight *prometheus.GaugeVec
}

// NewCacheMetrics constructs and registers the cache-tier collectors.
func NewCacheMetrics() *CacheMetrics {
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Cache hits by tier (fast, slow).",
	}, []string{"tier"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_misses_total",
		Help: "Cache misses by tier (fast, slow).",
	}, []string{"tier"})
	populateInFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_populate_in_flight",
		Help: "Number of in-flight cache-tier populate writes, by tier.",
	}, []string{"tier"})
	prometheus.MustRegister(hits, misses, populateInFlight)
	return &CacheMetrics{hits: hits, misses: misses, populateInFlight: populateInFlight}
}

// RecordHit increments tier's hit counter.
func (m *CacheMetrics) RecordHit(tier string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(tier).Inc()
}

// RecordMiss increments tier's miss counter.
func (m *CacheMetrics) RecordMiss(tier string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(tier).Inc()
}

// PopulateStarted marks one more in-flight populate write for tier.
func (m *CacheMetrics) PopulateStarted(tier string) {
	if m == nil {
		return
	}
	m.populateInFlight.WithLabelValues(tier).Inc()
}

// PopulateFinished marks a populate write for tier as complete.
func (m *CacheMetrics) PopulateFinished(tier string) {
	if m == nil {
		return
	}
	m.populateInFlight.WithLabelValues(tier).Dec()
}

// OriginMetrics tracks the Origin Client's retry policy (§4.E). A nil
// *OriginMetrics is valid and RecordRetry becomes a no-op.
type OriginMetrics struct {
	retries *prometheus.CounterVec
}

// NewOriginMetrics constructs and registers the origin retry counter.
func NewOriginMetrics() *OriginMetrics {
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_origin_retries_total",
		Help: "Origin fetch retry attempts, by bucket.",
	}, []string{"bucket"})
	prometheus.MustRegister(retries)
	return &OriginMetrics{retries: retries}
}

// RecordRetry increments bucket's retry counter.
func (m *OriginMetrics) RecordRetry(bucket string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(bucket).Inc()
}
