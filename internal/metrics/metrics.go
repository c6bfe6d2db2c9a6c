// Package metrics exposes Prometheus collectors for the catalog crawler.
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
	catalogFetchesTotal           *prometheus.CounterVec
	catalogFetchDurationSeconds   *prometheus.HistogramVec
	catalogInFlightRequests       prometheus.Gauge
	catalogNodeFailuresTotal      *prometheus.CounterVec
	catalogRecordsWrittenTotal    *prometheus.CounterVec
	catalogRootsTotal             *prometheus.CounterVec
	catalogRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		catalogFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_attempts_total",
				Help: "Catalog fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		catalogFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_fetch_duration_seconds",
				Help:    "Histogram of catalog fetch attempt latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		catalogInFlightRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_inflight_requests",
				Help: "Number of catalog requests currently in flight.",
			},
		)

		catalogNodeFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_node_failures_total",
				Help: "Folders, services and layers that could not be fetched, labeled by kind.",
			},
			[]string{"kind"},
		)

		catalogRecordsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_records_written_total",
				Help: "Layer records appended to the sink, labeled by site.",
			},
			[]string{"site"},
		)

		catalogRootsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_roots_total",
				Help: "Root catalogs processed, labeled by final state.",
			},
			[]string{"state"},
		)

		catalogRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt against a catalog URL.
func ObserveFetch(rawURL, outcome string, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	catalogFetchesTotal.WithLabelValues(site, outcome).Inc()
	catalogFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// IncInFlight increments the in-flight request gauge.
func IncInFlight() {
	Init()
	catalogInFlightRequests.Inc()
}

// DecInFlight decrements the in-flight request gauge.
func DecInFlight() {
	Init()
	catalogInFlightRequests.Dec()
}

// ObserveNodeFailure counts a catalog node that contributed no records.
func ObserveNodeFailure(kind string) {
	Init()
	catalogNodeFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveRecords adds the number of records written for a root.
func ObserveRecords(root string, written int) {
	Init()
	if written <= 0 {
		return
	}
	catalogRecordsWrittenTotal.WithLabelValues(SanitizeSite(root)).Add(float64(written))
}

// ObserveRoot counts a root leaving the run in the given state.
func ObserveRoot(state string) {
	Init()
	catalogRootsTotal.WithLabelValues(state).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	catalogRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
