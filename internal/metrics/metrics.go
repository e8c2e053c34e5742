// Package metrics exposes Prometheus collectors for the harvester.
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
	filterDecisionsTotal       *prometheus.CounterVec
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	archiveUploadsTotal        *prometheus.CounterVec
	sorterClassificationsTotal *prometheus.CounterVec
	sorterHallucinationsTotal  prometheus.Counter
	pagesTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	progressEventsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		filterDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_filter_decisions_total",
				Help: "Relevance decisions, labeled by source (ai, cache, fallback) and verdict.",
			},
			[]string{"source", "verdict"},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_downloads_total",
				Help: "Download attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_download_bytes_total",
				Help: "Bytes written to the archive, labeled by site.",
			},
			[]string{"site"},
		)

		archiveUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_archive_uploads_total",
				Help: "Archive uploads, labeled by result (uploaded, existing, failed).",
			},
			[]string{"result"},
		)

		sorterClassificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sorter_classifications_total",
				Help: "Sorted files, labeled by destination (sorted, review).",
			},
			[]string{"destination"},
		)

		sorterHallucinationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_sorter_hallucinations_total",
				Help: "Model subjects rejected by the taxonomy whitelist.",
			},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Crawled pages handed to the pipeline, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by limiter scope.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"scope"},
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

		progressEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_progress_events_total",
				Help: "Pipeline progress events, labeled by stage.",
			},
			[]string{"stage"},
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

// ObserveFilterDecision counts a relevance verdict.
func ObserveFilterDecision(source string, approved bool) {
	Init()
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	filterDecisionsTotal.WithLabelValues(source, verdict).Inc()
}

// ObserveDownload counts a download outcome and the bytes it wrote.
func ObserveDownload(rawURL, outcome string, bytesWritten int64) {
	Init()
	site := SanitizeSite(rawURL)
	downloadsTotal.WithLabelValues(site, outcome).Inc()
	if bytesWritten > 0 {
		downloadBytesTotal.WithLabelValues(site).Add(float64(bytesWritten))
	}
}

// ObserveArchiveUpload counts an archive upload result.
func ObserveArchiveUpload(result string) {
	Init()
	archiveUploadsTotal.WithLabelValues(result).Inc()
}

// ObserveSorted counts a sorted file by destination.
func ObserveSorted(destination string) {
	Init()
	sorterClassificationsTotal.WithLabelValues(destination).Inc()
}

// ObserveHallucination counts a subject rejected by the whitelist.
func ObserveHallucination() {
	Init()
	sorterHallucinationsTotal.Inc()
}

// ObservePage counts a page handed to the pipeline.
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProgressEvent counts a pipeline event by stage.
func ObserveProgressEvent(stage string) {
	Init()
	progressEventsTotal.WithLabelValues(stage).Inc()
}
