// Package metrics exposes the Prometheus registry shared by transit-proxy.
// All metrics are defined in their respective packages (memo, oba, otp,
// httpcache, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by transit-proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Gatherer in the Prometheus text format. Scrapes are
// themselves counted in Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Loader Metrics (pkg/memo), labelled by cache ("routes", "otp_version"):
//   - transit_cache_preload_total{cache, outcome} (Counter): Preload calls by outcome (fresh, joined, started, disabled)
//   - transit_cache_refresh_total{cache, result} (Counter): Finished refreshes (success, error, discarded)
//   - transit_cache_refresh_duration_seconds{cache} (Histogram): Refresh duration
//   - transit_cache_last_success_timestamp_seconds{cache} (Gauge): Unix time of the last successful refresh
//
// Upstream Response Cache Metrics (pkg/httpcache):
//   - transit_upstream_cache_hits_total (Counter): Stored responses found for revalidation
//   - transit_upstream_cache_misses_total (Counter): No stored response
//   - transit_upstream_cache_size_bytes (Gauge): Size of the last stored response
//   - transit_upstream_304_responses_total (Counter): 304 Not Modified responses
//   - transit_upstream_conditional_requests_total (Counter): Conditional requests sent
//   - transit_upstream_cache_errors_total{operation} (Counter): Redis operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - transit_rate_limit_blocks_total (Counter): Requests blocked by an active 429 backoff
//   - transit_rate_limit_backoffs_total (Counter): 429 responses that started a backoff
//   - transit_rate_limit_wait_seconds (Histogram): Time spent in the outbound pacer
//
// Request Metrics (pkg/oba):
//   - oba_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - oba_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - oba_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//   - oba_retries_total{error_class} (Counter): Retry attempts by error class
//   - oba_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - oba_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// OTP Metrics (pkg/otp):
//   - otp_probe_total{result} (Counter): API type probes by result (graphql, rest, network_error, status_error, decode_error)
//
// Example Prometheus Queries:
//
//   # Routes cache age
//   time() - transit_cache_last_success_timestamp_seconds{cache="routes"}
//
//   # Refresh failure rate
//   rate(transit_cache_refresh_total{result="error"}[15m])
//
//   # P95 OBA latency
//   histogram_quantile(0.95, rate(oba_request_duration_seconds_bucket[5m]))
//
//   # Revalidation rate
//   rate(transit_upstream_304_responses_total[1h]) / rate(oba_requests_total[1h])
