// Package metrics exposes the Prometheus metrics of the comments service.
// Metrics are defined with promauto in the packages that record them
// (github, cache, linkheader, comments) to avoid circular dependencies;
// this package serves them and documents the full set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/github):
//   - github_requests_total{endpoint, status} (Counter): Requests by endpoint (issue, comments) and HTTP status
//   - github_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - github_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//
// Cache Metrics (pkg/cache):
//   - github_cache_hits_total{layer="redis"} (Counter): Responses replayed after 304
//   - github_cache_misses_total (Counter): Lookups without a stored response
//   - github_cache_size_bytes{layer="redis"} (Gauge): Size of the last stored body
//   - github_304_responses_total (Counter): 304 Not Modified responses
//   - github_conditional_requests_total (Counter): Requests sent with If-None-Match or If-Modified-Since
//   - github_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/linkheader):
//   - linkheader_malformed_entries_total (Counter): Link header entries skipped as malformed
//
// Widget Metrics (pkg/comments):
//   - comments_cycles_total{state} (Counter): Page-load cycles by final state
//   - comments_rendered_total (Counter): Comment fragments appended
//
// Example Prometheus Queries:
//
//   # Comments fallback rate
//   rate(comments_cycles_total{state="failed"}[5m]) / sum(rate(comments_cycles_total[5m]))
//
//   # Revalidation savings
//   rate(github_304_responses_total[5m]) / rate(github_conditional_requests_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(github_request_duration_seconds_bucket[5m]))
