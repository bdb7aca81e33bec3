// Package metrics exposes the prometheus instrumentation of the pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the pipeline counters
type Collector struct {
	registry *prometheus.Registry

	PagesFetched     *prometheus.CounterVec
	RecordsInserted  *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	TaskRetries      *prometheus.CounterVec
	GeometryFailures prometheus.Counter
	StepDuration     *prometheus.HistogramVec
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// Default returns the process-wide collector
func Default() *Collector {
	once.Do(func() {
		defaultCollector = NewCollector()
	})
	return defaultCollector
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emsync",
		Name:      "pages_fetched_total",
		Help:      "Upstream pages fetched per resource.",
	}, []string{"resource"})

	c.RecordsInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emsync",
		Name:      "records_inserted_total",
		Help:      "Records bulk-imported per collection.",
	}, []string{"collection"})

	c.RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emsync",
		Name:      "records_skipped_total",
		Help:      "Records skipped because their type is unknown.",
	}, []string{"resource", "reason"})

	c.TaskRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emsync",
		Name:      "task_retries_total",
		Help:      "Fill task retries per resource.",
	}, []string{"resource"})

	c.GeometryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "emsync",
		Name:      "geometry_failures_total",
		Help:      "Assets whose geometry could not be transformed (lenient mode only).",
	})

	c.StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emsync",
		Name:      "step_duration_seconds",
		Help:      "Wall time per pipeline step.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"step"})

	c.registry.MustRegister(
		c.PagesFetched,
		c.RecordsInserted,
		c.RecordsSkipped,
		c.TaskRetries,
		c.GeometryFailures,
		c.StepDuration,
	)
	return c
}

// Handler returns an HTTP handler serving the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics listener on addr; it blocks until the server stops
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
