// Package metrics exposes Prometheus collectors for the fetch engine.
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
	fetchBytesTotal            *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	proxyRotationsTotal        *prometheus.CounterVec
	proxyEvictionsTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	watchdogFiredTotal         prometheus.Counter
	batchesTotal               *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Fetch result labels.
const (
	ResultSuccess   = "success"
	ResultFiltered  = "filtered"
	ResultTooLarge  = "too_large"
	ResultTransport = "transport"
)

// Proxy rotation reasons.
const (
	RotationForced  = "forced"
	RotationCadence = "cadence"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetch_bytes_total",
				Help: "Total number of decoded bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetch_fetches_total",
				Help: "Total number of URL fetches, labeled by result.",
			},
			[]string{"result"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docfetch_retries_total",
				Help: "Total number of retried download attempts.",
			},
		)

		proxyRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetch_proxy_rotations_total",
				Help: "Total proxy rotations, labeled by reason.",
			},
			[]string{"reason"},
		)

		proxyEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docfetch_proxy_evictions_total",
				Help: "Total proxies evicted after failing a liveness probe.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docfetch_active_workers",
				Help: "Number of workers currently downloading a URL.",
			},
		)

		watchdogFiredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docfetch_watchdog_fired_total",
				Help: "Total connections aborted by the overall-timeout watchdog.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetch_batches_total",
				Help: "Total number of batches run, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfetch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
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
// It returns "unknown" if the URL is invalid and "local" for filesystem paths.
func SanitizeSite(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}
	if strings.HasPrefix(rawURL, "/") || strings.HasPrefix(strings.ToLower(rawURL), "file://") {
		return "local"
	}
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

// ObserveFetch counts one finished URL and, on success, its bytes.
func ObserveFetch(rawURL, result string, bytesFetched int64) {
	Init()
	fetchesTotal.WithLabelValues(result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retried attempt.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// ObserveProxyRotation counts a proxy rotation.
func ObserveProxyRotation(reason string) {
	Init()
	proxyRotationsTotal.WithLabelValues(reason).Inc()
}

// ObserveProxyEviction counts an evicted proxy.
func ObserveProxyEviction() {
	Init()
	proxyEvictionsTotal.Inc()
}

// ObserveWatchdogFired counts a connection aborted by the watchdog.
func ObserveWatchdogFired() {
	Init()
	watchdogFiredTotal.Inc()
}

// ObserveBatch counts a finished batch.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
