// Package metrics exposes Prometheus collectors for the orchestrator and the
// crawl worker. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the service registers.
type Metrics struct {
	dispatches         prometheus.Counter
	outcomes           *prometheus.CounterVec
	inFlight           prometheus.Gauge
	invocationSeconds  *prometheus.HistogramVec
	frontierPending    prometheus.Gauge
	enqueued           prometheus.Counter
	throttleDelay      prometheus.Histogram
	workerFetches      *prometheus.CounterVec
	workerBytes        *prometheus.CounterVec
	robotsFallbacks    prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// New registers the collectors against reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_dispatches_total",
			Help: "Worker invocations started by the dispatcher.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_invocation_outcomes_total",
			Help: "Settled invocation attempts, labeled by outcome.",
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_invocations_in_flight",
			Help: "Worker invocations currently outstanding.",
		}),
		invocationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_invocation_duration_seconds",
			Help:    "Latency of worker invocations, labeled by outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		}, []string{"outcome"}),
		frontierPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_pending",
			Help: "URLs waiting to be dispatched.",
		}),
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_urls_enqueued_total",
			Help: "New URLs admitted to the frontier.",
		}),
		throttleDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Time spent waiting on the dispatch throttle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		workerFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_fetches_total",
			Help: "Pages fetched by the crawl worker, labeled by site and status class.",
		}, []string{"site", "status"}),
		workerBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_bytes_total",
			Help: "Bytes fetched by the crawl worker, labeled by site.",
		}, []string{"site"}),
		robotsFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_worker_robots_fallbacks_total",
			Help: "Fetches that went ahead without robots.txt because every request for it timed out.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveDispatch records one invocation start.
func (m *Metrics) ObserveDispatch() {
	if m == nil {
		return
	}
	m.dispatches.Inc()
	m.inFlight.Inc()
}

// ObserveOutcome records a finished invocation.
func (m *Metrics) ObserveOutcome(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.outcomes.WithLabelValues(outcome).Inc()
	m.invocationSeconds.WithLabelValues(outcome).Observe(took.Seconds())
}

// SetFrontierPending publishes the ready-queue size.
func (m *Metrics) SetFrontierPending(n int) {
	if m == nil {
		return
	}
	m.frontierPending.Set(float64(n))
}

// ObserveEnqueued counts newly admitted URLs.
func (m *Metrics) ObserveEnqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueued.Add(float64(n))
}

// ObserveThrottleDelay records time spent waiting for a dispatch slot.
func (m *Metrics) ObserveThrottleDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.throttleDelay.Observe(d.Seconds())
}

// ObserveFetch records a worker fetch. statusCode 0 means no response.
func (m *Metrics) ObserveFetch(rawURL string, statusCode int, bytesFetched int) {
	if m == nil {
		return
	}
	site := SanitizeSite(rawURL)
	m.workerFetches.WithLabelValues(site, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		m.workerBytes.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRobotsFallback counts robots.txt probes that fell back to allow-all.
func (m *Metrics) ObserveRobotsFallback() {
	if m == nil {
		return
	}
	m.robotsFallbacks.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// StatusClass buckets an HTTP status code as "2xx", "4xx" and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
