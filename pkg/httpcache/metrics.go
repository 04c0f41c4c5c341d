package httpcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks stored entries found in Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_upstream_cache_hits_total",
			Help: "Total number of upstream response cache hits",
		},
	)

	// CacheMisses tracks lookups without a usable entry
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_upstream_cache_misses_total",
			Help: "Total number of upstream response cache misses",
		},
	)

	// CacheSize tracks bytes written to Redis
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transit_upstream_cache_size_bytes",
			Help: "Bytes of upstream responses written to Redis",
		},
	)

	// NotModifiedResponses tracks 304 replies answered from Redis
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_upstream_304_responses_total",
			Help: "Total number of upstream 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks requests sent with validators
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_upstream_conditional_requests_total",
			Help: "Total number of conditional upstream requests",
		},
	)

	// CacheErrors tracks Redis errors by operation
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transit_upstream_cache_errors_total",
			Help: "Total number of upstream response cache errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
