// Package metrics provides Prometheus metrics for imports, rankings and the cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Each instance owns its registry so several
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Import metrics
	ImportsStarted   *prometheus.CounterVec
	ImportsFinished  *prometheus.CounterVec
	PhotosImported   *prometheus.CounterVec
	PhotosFailed     *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	TransformSeconds prometheus.Histogram

	// Read path
	CacheLookups       *prometheus.CounterVec
	RankingComputeTime prometheus.Histogram

	// Votes
	VotesCast prometheus.Counter

	// Pipeline
	QueueDepth prometheus.GaugeFunc
}

// New registers all collectors under namespace. queueDepth may be nil.
func New(namespace string, queueDepth func() int) *Metrics {
	if namespace == "" {
		namespace = "vowselect"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	if queueDepth == nil {
		queueDepth = func() int { return 0 }
	}

	return &Metrics{
		registry: reg,
		ImportsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_started_total",
			Help:      "Import jobs started, by source kind",
		}, []string{"source"}),
		ImportsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_finished_total",
			Help:      "Import jobs that reached a terminal status",
		}, []string{"source", "status"}),
		PhotosImported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_imported_total",
			Help:      "Photos materialized with a ready payload",
		}, []string{"source"}),
		PhotosFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_failed_total",
			Help:      "Source items that could not be fetched or transformed",
		}, []string{"source"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_batch_duration_seconds",
			Help:      "Time to process one background import batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~50s
		}),
		TransformSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Time to decode, resize and encode one image",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),
		RankingComputeTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_compute_duration_seconds",
			Help:      "Time to aggregate rankings on a cache miss",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		VotesCast: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Votes created or updated",
		}),
		QueueDepth: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Background tasks waiting for a worker",
		}, func() float64 { return float64(queueDepth()) }),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheHit and CacheMiss record a lookup against the named cache.
func (m *Metrics) CacheHit(cache string)  { m.CacheLookups.WithLabelValues(cache, "hit").Inc() }
func (m *Metrics) CacheMiss(cache string) { m.CacheLookups.WithLabelValues(cache, "miss").Inc() }
