// Package observability provides Prometheus metrics for the application.
// All recording methods are safe to call on a nil *Metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "downloadflow"

// Metrics holds all application metrics.
type Metrics struct {
	// Download metrics
	DownloadsCreated    prometheus.Counter
	DownloadsCompleted  prometheus.Counter
	DownloadsFailed     *prometheus.CounterVec
	DownloadsInProgress prometheus.Gauge
	DownloadBytes       prometheus.Counter
	DownloadDuration    prometheus.Histogram
	QueueRejected       prometheus.Counter

	// Storage metrics
	CleanupRecordsTotal prometheus.Counter
	CleanupFilesTotal   prometheus.Counter
	StoredRecords       prometheus.Gauge

	// Metadata metrics
	InfoCacheHits   prometheus.Counter
	InfoCacheMisses prometheus.Counter

	// Batch metrics
	BatchArchives *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRateLimited     prometheus.Counter

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Extractor metrics
	ExtractorRequestsTotal *prometheus.CounterVec
	ExtractorErrors        *prometheus.CounterVec
}

// New creates and registers all application metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all application metrics and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DownloadsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "created_total",
			Help:      "Total number of downloads accepted",
		}),
		DownloadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "completed_total",
			Help:      "Total number of downloads completed successfully",
		}),
		DownloadsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "failed_total",
			Help:      "Total number of downloads that ended in error",
		}, []string{"reason"}),
		DownloadsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "in_progress",
			Help:      "Number of downloads not yet in a terminal state",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "bytes_total",
			Help:      "Total bytes of produced files",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "duration_seconds",
			Help:      "Histogram of download duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		QueueRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "queue_rejected_total",
			Help:      "Total number of downloads rejected because the queue was full",
		}),

		CleanupRecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_records_total",
			Help:      "Total number of download records removed",
		}),
		CleanupFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_files_total",
			Help:      "Total number of files removed",
		}),
		StoredRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "records_current",
			Help:      "Current number of stored download records",
		}),

		InfoCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "cache_hits_total",
			Help:      "Total number of metadata lookups served from cache",
		}),
		InfoCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "cache_misses_total",
			Help:      "Total number of metadata lookups that ran the extractor",
		}),

		BatchArchives: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "archives_total",
			Help:      "Total number of batch archives by outcome",
		}, []string{"status"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of extractor invocations made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		ExtractorRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "requests_total",
			Help:      "Total number of extractor invocations",
		}, []string{"operation", "status"}),
		ExtractorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "errors_total",
			Help:      "Total number of extractor errors",
		}, []string{"operation", "error_type"}),
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DownloadTimer returns a function to record download duration.
func (m *Metrics) DownloadTimer() func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.DownloadDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited increments the rate limited counter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}

	m.HTTPRateLimited.Inc()
}

// RecordDownloadCreated increments the downloads created counter.
func (m *Metrics) RecordDownloadCreated() {
	if m == nil {
		return
	}

	m.DownloadsCreated.Inc()
	m.DownloadsInProgress.Inc()
}

// RecordDownloadCompleted records a completed download of size bytes.
func (m *Metrics) RecordDownloadCompleted(size int64) {
	if m == nil {
		return
	}

	m.DownloadsCompleted.Inc()
	m.DownloadsInProgress.Dec()
	m.DownloadBytes.Add(float64(size))
}

// RecordDownloadFailed records a failed download.
func (m *Metrics) RecordDownloadFailed(reason string) {
	if m == nil {
		return
	}

	m.DownloadsFailed.WithLabelValues(reason).Inc()
	m.DownloadsInProgress.Dec()
}

// RecordQueueRejected increments the queue rejection counter.
func (m *Metrics) RecordQueueRejected() {
	if m == nil {
		return
	}

	m.QueueRejected.Inc()
}

// RecordCleanup records cleanup metrics.
func (m *Metrics) RecordCleanup(records, files int) {
	if m == nil {
		return
	}

	m.CleanupRecordsTotal.Add(float64(records))
	m.CleanupFilesTotal.Add(float64(files))
}

// SetStoredRecords sets the number of stored download records.
func (m *Metrics) SetStoredRecords(count int) {
	if m == nil {
		return
	}

	m.StoredRecords.Set(float64(count))
}

// RecordInfoCache records a metadata cache lookup.
func (m *Metrics) RecordInfoCache(hit bool) {
	if m == nil {
		return
	}

	if hit {
		m.InfoCacheHits.Inc()

		return
	}

	m.InfoCacheMisses.Inc()
}

// RecordBatch records a batch archive outcome.
func (m *Metrics) RecordBatch(status string) {
	if m == nil {
		return
	}

	m.BatchArchives.WithLabelValues(status).Inc()
}

// RecordExtractorRequest records an extractor invocation.
func (m *Metrics) RecordExtractorRequest(operation, status string) {
	if m == nil {
		return
	}

	m.ExtractorRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordExtractorError records an extractor error.
func (m *Metrics) RecordExtractorError(operation, errorType string) {
	if m == nil {
		return
	}

	m.ExtractorErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}
