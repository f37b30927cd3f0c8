// Package metrics provides Prometheus metrics for catmosaic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all catmosaic metrics.
var Registry = prometheus.NewRegistry()

// Drop reasons used with the Dropped counter.
const (
	DropDecode = "decode"
	DropTooBig = "too_large"
)

// Upload results used with the Uploads counter.
const (
	UploadOK     = "ok"
	UploadFailed = "failed"
)

// Metrics holds all Prometheus metrics for a catmosaic process.
type Metrics struct {
	// Ingest counters
	Fetches     prometheus.Counter
	FetchErrors prometheus.Counter
	Duplicates  prometheus.Counter
	Inserted    prometheus.Counter
	Dropped     *prometheus.CounterVec // labels: reason

	// Batch counters
	Batches       *prometheus.CounterVec // labels: mode
	Uploads       *prometheus.CounterVec // labels: result
	UploadBytes   prometheus.Counter
	BatchDuration *prometheus.HistogramVec // labels: mode

	// Supervision
	WorkerRestarts *prometheus.CounterVec // labels: pool
	WorkersHealthy *prometheus.GaugeVec   // labels: pool
	WorkersTotal   *prometheus.GaugeVec   // labels: pool

	// Store gauges
	StoreImages   prometheus.Gauge
	StoreInFlight prometheus.Gauge

	// Build info (constant labels exposed as a gauge)
	Info *prometheus.GaugeVec // labels: instance, version
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics initializes all metrics with the given instance name as a constant label.
func InitMetrics(instance, version string) *Metrics {
	constLabels := prometheus.Labels{
		"instance": instance,
	}
	factory := promauto.With(Registry)

	m := &Metrics{
		Fetches: factory.NewCounter(prometheus.CounterOpts{
			Name:        "catmosaic_fetches_total",
			Help:        "Total payloads fetched from the endpoint",
			ConstLabels: constLabels,
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "catmosaic_fetch_errors_total",
			Help:        "Fetches that failed after retries",
			ConstLabels: constLabels,
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name:        "catmosaic_duplicates_total",
			Help:        "Fetched payloads whose identity was already stored",
			ConstLabels: constLabels,
		}),
		Inserted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "catmosaic_images_inserted_total",
			Help:        "New images added to the store",
			ConstLabels: constLabels,
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "catmosaic_dropped_total",
			Help:        "Payloads dropped without being stored",
			ConstLabels: constLabels,
		}, []string{"reason"}),

		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "catmosaic_batches_total",
			Help:        "Batches built",
			ConstLabels: constLabels,
		}, []string{"mode"}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "catmosaic_uploads_total",
			Help:        "Batch uploads by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name:        "catmosaic_upload_bytes_total",
			Help:        "Bytes uploaded to the endpoint",
			ConstLabels: constLabels,
		}),
		BatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "catmosaic_batch_duration_seconds",
			Help:        "Time to sample, encode and upload one batch",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"mode"}),

		WorkerRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "catmosaic_worker_restarts_total",
			Help:        "Worker restarts after a failed or panicking step",
			ConstLabels: constLabels,
		}, []string{"pool"}),
		WorkersHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "catmosaic_workers_healthy",
			Help:        "Workers currently reporting healthy",
			ConstLabels: constLabels,
		}, []string{"pool"}),
		WorkersTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "catmosaic_workers",
			Help:        "Workers in the pool",
			ConstLabels: constLabels,
		}, []string{"pool"}),

		StoreImages: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "catmosaic_store_images",
			Help:        "Images held in the store",
			ConstLabels: constLabels,
		}),
		StoreInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "catmosaic_store_inflight",
			Help:        "Identities claimed and still decoding",
			ConstLabels: constLabels,
		}),

		Info: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catmosaic_info",
			Help: "Process information (value is always 1)",
		}, []string{"instance", "version"}),
	}

	m.Info.WithLabelValues(instance, version).Set(1)

	return m
}

// Handler returns an HTTP handler serving the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
