// Package telemetry exposes Prometheus metrics for the crawl service.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Total number of jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	crawlerActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_jobs",
			Help: "Number of jobs currently executing.",
		},
	)

	crawlerPagesBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Total number of content bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	crawlerCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_cooldowns_total",
			Help: "Total number of server-signaled cooldowns recorded per domain.",
		},
		[]string{"domain"},
	)

	crawlerDedupChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_dedup_checks_total",
			Help: "Dedup check outcomes, labeled by the layer that matched.",
		},
		[]string{"outcome"},
	)

	crawlerEnrichmentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_enrichment_failures_total",
			Help: "Best-effort enrichment failures, labeled by collaborator.",
		},
		[]string{"collaborator"},
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
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// SanitizeSite extracts the hostname from a URL.
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

// ObserveJob records a terminal job status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the executing-jobs gauge.
func IncActiveJobs() {
	crawlerActiveJobs.Inc()
}

// DecActiveJobs decrements the executing-jobs gauge.
func DecActiveJobs() {
	crawlerActiveJobs.Dec()
}

// ObserveFetch records bytes fetched for a site.
func ObserveFetch(site string, bytesFetched int) {
	if bytesFetched > 0 {
		crawlerPagesBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCooldown records a server-signaled cooldown for a domain.
func ObserveCooldown(domain string) {
	crawlerCooldownsTotal.WithLabelValues(domain).Inc()
}

// ObserveDedup records a dedup check outcome ("unique", "content_hash",
// "url_hash", "title_hash", "similarity").
func ObserveDedup(outcome string) {
	crawlerDedupChecksTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichmentFailure records a best-effort enrichment failure.
func ObserveEnrichmentFailure(collaborator string) {
	crawlerEnrichmentFailuresTotal.WithLabelValues(collaborator).Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
