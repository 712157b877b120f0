// Package metrics exposes Prometheus collectors for the fetchers, the
// notifier and the HTTP API. Run-level counters live in the progress sinks.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchBackoffsTotal         *prometheus.CounterVec
	headlessFallbacksTotal     *prometheus.CounterVec
	pacingDelaySeconds         prometheus.Histogram
	tlsRetriesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	docstoreConflictsTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_fetch_attempts_total",
				Help: "Plain HTTP fetch attempts, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchBackoffsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_fetch_backoffs_total",
				Help: "Backoff sleeps after 429/503 responses, labeled by site.",
			},
			[]string{"site"},
		)

		headlessFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_headless_fallbacks_total",
				Help: "Headless browser fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "announcements_pacing_delay_seconds",
				Help:    "Time spent waiting for the pacing slot before a request.",
				Buckets: []float64{0, 0.25, 0.5, 1, 2, 4, 6, 10},
			},
		)

		tlsRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_tls_handshake_retries_total",
				Help: "Transient TLS handshake failures retried by the HTTP transport.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "announcements_rate_limit_delays_seconds",
				Help:    "Histogram of headless rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_notifications_total",
				Help: "Notification emails, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		docstoreConflictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "announcements_docstore_conflicts_total",
				Help: "Generation conflicts seen by read-modify-write cycles, labeled by document.",
			},
			[]string{"document"},
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

// StatusClass buckets an HTTP status code ("2xx", "4xx", ...). Zero maps to
// "error" for transport failures.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one plain HTTP attempt.
func ObserveFetch(site string, code int, bytesFetched int) {
	if fetchAttemptsTotal == nil {
		return
	}
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, StatusClass(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveBackoff counts a backoff sleep for site.
func ObserveBackoff(site string) {
	if fetchBackoffsTotal == nil {
		return
	}
	fetchBackoffsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveHeadless records the outcome ("success" or "failure") of a headless
// fallback.
func ObserveHeadless(site, outcome string) {
	if headlessFallbacksTotal == nil {
		return
	}
	headlessFallbacksTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObservePacingDelay records how long a request waited for its pacing slot.
func ObservePacingDelay(d time.Duration) {
	if pacingDelaySeconds == nil {
		return
	}
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveTLSRetry counts a retried TLS handshake.
func ObserveTLSRetry(host string) {
	if tlsRetriesTotal == nil {
		return
	}
	tlsRetriesTotal.WithLabelValues(SanitizeSite(host)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveNotification records a notification outcome: "sent",
// "send_failed" or "persist_failed".
func ObserveNotification(outcome string) {
	if notificationsTotal == nil {
		return
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveConflict counts a generation conflict on document.
func ObserveConflict(document string) {
	if docstoreConflictsTotal == nil {
		return
	}
	docstoreConflictsTotal.WithLabelValues(document).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
