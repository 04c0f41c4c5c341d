package memo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PreloadCalls tracks Preload calls by outcome ("fresh", "joined", "started", "disabled").
	PreloadCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transit_cache_preload_total",
			Help: "Total number of cache preload calls by outcome",
		},
		[]string{"cache", "outcome"},
	)

	// Refreshes tracks completed upstream refreshes by result ("success", "error", "discarded").
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transit_cache_refresh_total",
			Help: "Total number of cache refreshes by result",
		},
		[]string{"cache", "result"},
	)

	// RefreshDuration tracks how long upstream refreshes take.
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transit_cache_refresh_duration_seconds",
			Help:    "Cache refresh duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"cache"},
	)

	// LastSuccess records the unix time of the last successful refresh.
	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transit_cache_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful cache refresh",
		},
		[]string{"cache"},
	)
)
