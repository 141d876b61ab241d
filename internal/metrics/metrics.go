// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerBytesTotal           *prometheus.CounterVec
	crawlerDedupTotal           *prometheus.CounterVec
	crawlerStoreErrorsTotal     *prometheus.CounterVec
	crawlerLevelsTotal          prometheus.Counter
	crawlerFrontierSize         prometheus.Gauge
	crawlerVisitedTotal         prometheus.Gauge
	crawlerActiveWorkers        prometheus.Gauge
	crawlerCooldownWaitSeconds  *prometheus.HistogramVec
	crawlerFetchDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerDedupTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dedup_total",
				Help: "Near-duplicate checks, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerStoreErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_errors_total",
				Help: "Failed store writes, labeled by operation.",
			},
			[]string{"operation"},
		)

		crawlerLevelsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_levels_total",
				Help: "Completed breadth-first levels.",
			},
		)

		crawlerFrontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_size",
				Help: "URLs pending for the next level.",
			},
		)

		crawlerVisitedTotal = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_visited_urls",
				Help: "URLs dispatched so far in this run.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Workers currently processing a slice.",
			},
		)

		crawlerCooldownWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_cooldown_wait_seconds",
				Help:    "Time spent waiting for a per-origin cooldown.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or origin.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page.
func ObservePage(site, outcome string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveFetch records a fetch latency.
func ObserveFetch(site string, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveDedup counts a near-duplicate check result.
func ObserveDedup(result string) {
	Init()
	crawlerDedupTotal.WithLabelValues(result).Inc()
}

// ObserveStoreError counts a failed store write.
func ObserveStoreError(operation string) {
	Init()
	crawlerStoreErrorsTotal.WithLabelValues(operation).Inc()
}

// ObserveLevel records a finished level and the resulting frontier state.
func ObserveLevel(pending, visited int) {
	Init()
	crawlerLevelsTotal.Inc()
	crawlerFrontierSize.Set(float64(pending))
	crawlerVisitedTotal.Set(float64(visited))
}

// ObserveCooldownWait records the duration of a cooldown wait.
func ObserveCooldownWait(site string, duration time.Duration) {
	Init()
	crawlerCooldownWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
