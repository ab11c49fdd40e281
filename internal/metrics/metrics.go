// Package metrics registers the Prometheus series exposed on GET /metrics
// (SPEC_FULL.md §3), grounded directly on
// tinoosan-torrus/internal/metrics.go's namespace+MustRegister shape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "downloads_started_total",
			Help:      "Count of downloads that entered DOWNLOADING.",
		},
	)

	DownloadsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "downloads_completed_total",
			Help:      "Count of downloads that reached COMPLETED.",
		},
	)

	DownloadsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "downloads_failed_total",
			Help:      "Count of downloads that reached ERROR, labeled by error code.",
		},
		[]string{"code"},
	)

	MirrorFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "mirror_fallbacks_total",
			Help:      "Count of retries that used a mirror rewrite.",
		},
	)

	StallRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "stall_retries_total",
			Help:      "Count of backoff retries scheduled (stall watchdog or retryable error).",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zdmr",
			Name:      "active_downloads",
			Help:      "Number of Downloads currently in DOWNLOADING.",
		},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zdmr",
			Name:      "bytes_downloaded_total",
			Help:      "Cumulative bytes written across all segments.",
		},
	)
)

// Register registers every zdmr metric into the default registry. Call
// once at daemon startup before Serve.
func Register() {
	prometheus.MustRegister(
		DownloadsStarted, DownloadsCompleted, DownloadsFailed,
		MirrorFallbacks, StallRetries, ActiveDownloads, BytesDownloaded,
	)
}
