// Package metrics exposes Prometheus collectors for the gatherer service.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerBackoffTotal           *prometheus.CounterVec
	crawlerRobotsFallbackTotal    *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlsTotal                   *prometheus.CounterVec
	pipelineRejectionsTotal       *prometheus.CounterVec
	productsTotal                 *prometheus.CounterVec
	workOrdersTotal               *prometheus.CounterVec
	activeWorkers                 prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly; every
// observer calls it, so packages may record before the service wires /metrics.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages downloaded, labeled by site and status code.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerBackoffTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_backoff_responses_total",
				Help: "Backoff-class HTTP responses, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt fetches that fell back to deferring the crawl, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness waits before each download.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherer_crawls_total",
				Help: "Finished crawls, labeled by status and reason.",
			},
			[]string{"status", "reason"},
		)

		pipelineRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherer_page_rejections_total",
				Help: "Pages rejected by the extraction pipeline, labeled by reason.",
			},
			[]string{"reason"},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherer_products_total",
				Help: "Product lifecycle events, labeled by event.",
			},
			[]string{"event"},
		)

		workOrdersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherer_work_orders_total",
				Help: "Work orders processed, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherer_active_workers",
				Help: "Number of workers currently running a work order.",
			},
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

// ObservePage records one download.
func ObservePage(site string, status int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveBackoff records a backoff-class response.
func ObserveBackoff(site string) {
	Init()
	crawlerBackoffTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRobotsFallback records a robots.txt fetch that could not be completed.
func ObserveRobotsFallback(reason string) {
	Init()
	crawlerRobotsFallbackTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCrawl records a finished crawl.
func ObserveCrawl(status, reason string) {
	Init()
	crawlsTotal.WithLabelValues(status, reason).Inc()
}

// ObserveRejection records a page the pipeline refused.
func ObserveRejection(reason string) {
	Init()
	pipelineRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveProducts records n product events ("built", "refreshed", "deleted", "duplicate").
func ObserveProducts(event string, n int) {
	Init()
	if n > 0 {
		productsTotal.WithLabelValues(event).Add(float64(n))
	}
}

// ObserveWorkOrder records a processed work order.
func ObserveWorkOrder(orderType, status string) {
	Init()
	workOrdersTotal.WithLabelValues(orderType, status).Inc()
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

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
