// Package metrics exposes Prometheus collectors for the archiver and the
// annotation service.
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
	archiveRecordsTotal         *prometheus.CounterVec
	archiveBytesTotal           *prometheus.CounterVec
	archiveFetchesTotal         *prometheus.CounterVec
	archiveFetchDurationSeconds *prometheus.HistogramVec
	archiveRedirectsTotal       prometheus.Counter
	archiveWriteErrorsTotal     prometheus.Counter
	archiveMirrorErrorsTotal    *prometheus.CounterVec
	archiveRateLimitDelays      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	annotationsStored           prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// Observe helper calls it first.
func Init() {
	once.Do(func() {
		archiveRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_records_total",
				Help: "Records archived, labeled by post field and outcome.",
			},
			[]string{"field", "outcome"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_bytes_total",
				Help: "Bytes of retrieved post bodies archived, labeled by post field. Failure text is not counted.",
			},
			[]string{"field"},
		)

		archiveFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetches_total",
				Help: "HTTP GETs issued, labeled by site and status code (0 for transport errors).",
			},
			[]string{"site", "code"},
		)

		archiveFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_fetch_duration_seconds",
				Help:    "Latency of single HTTP GETs, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		archiveRedirectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_redirects_total",
				Help: "Redirect hops followed.",
			},
		)

		archiveWriteErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_write_errors_total",
				Help: "Post files that could not be written.",
			},
		)

		archiveMirrorErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_mirror_errors_total",
				Help: "Failed mirror deliveries, labeled by mirror.",
			},
			[]string{"mirror"},
		)

		archiveRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		annotationsStored = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "annotator_uris",
				Help: "Number of URIs holding at least one annotation.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveRecord counts one archived record.
func ObserveRecord(field string, ok bool, bytes int) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	archiveRecordsTotal.WithLabelValues(field, outcome).Inc()
	if bytes > 0 {
		archiveBytesTotal.WithLabelValues(field).Add(float64(bytes))
	}
}

// ObserveFetch records a single GET.
func ObserveFetch(rawURL string, code int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	archiveFetchesTotal.WithLabelValues(site, strconv.Itoa(code)).Inc()
	archiveFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRedirect counts a followed redirect hop.
func ObserveRedirect() {
	Init()
	archiveRedirectsTotal.Inc()
}

// ObserveWriteError counts a post file that could not be written.
func ObserveWriteError() {
	Init()
	archiveWriteErrorsTotal.Inc()
}

// ObserveMirrorError counts a failed mirror delivery.
func ObserveMirrorError(mirror string) {
	Init()
	archiveMirrorErrorsTotal.WithLabelValues(mirror).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	archiveRateLimitDelays.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetAnnotatedURIs records the number of annotated URIs.
func SetAnnotatedURIs(n int) {
	Init()
	annotationsStored.Set(float64(n))
}
