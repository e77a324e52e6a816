package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Collection metrics
	CollectionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_collection_operations_total",
			Help: "Total number of collection operations",
		},
		[]string{"collection", "operation", "status"},
	)

	CollectionOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quickkv_collection_operation_duration_seconds",
			Help:    "Collection operation latencies in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	LazyEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_lazy_evictions_total",
			Help: "Total number of expired entries removed on read",
		},
		[]string{"collection"},
	)

	CollectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickkv_collections_open",
			Help: "Number of collections currently open",
		},
	)

	// Codec metrics
	CodecFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_codec_fallbacks_total",
			Help: "Total number of decodes that returned the fallback value",
		},
		[]string{"type"},
	)

	// Backend metrics
	BackendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_backend_operations_total",
			Help: "Total number of backend primitive operations",
		},
		[]string{"backend", "operation", "status"},
	)

	FileStoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_filestore_writes_total",
			Help: "Total number of sealed file rewrites",
		},
		[]string{"target", "status"},
	)

	FileStoreWriteBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quickkv_filestore_write_bytes",
			Help:    "Size of sealed file rewrites in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	FileStoreRestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_filestore_restores_total",
			Help: "Total number of restores from the backup file",
		},
		[]string{"status"},
	)

	// Watch metrics
	ObserversActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickkv_observers_active",
			Help: "Number of registered change observers",
		},
	)

	WatchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickkv_watch_events_total",
			Help: "Total number of change events delivered",
		},
		[]string{"event_type"},
	)

	WatchHandlerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quickkv_watch_handler_panics_total",
			Help: "Total number of observer handlers that panicked",
		},
	)

	// System metrics
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quickkv_build_info",
			Help: "Build information about quickkv",
		},
		[]string{"version", "go_version"},
	)
)

// Status returns the status label for an operation result
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
