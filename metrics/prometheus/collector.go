// Package prometheus exports ahsp metrics to Prometheus.
//
//	c, err := prometheus.New(prom.DefaultRegisterer)
//	m, err := ahsp.New(cfg, src, ahsp.WithMetricsCollector(c))
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mladen5000/strain-ahsp"
)

// Collector implements ahsp.MetricsCollector.
type Collector struct {
	opLatency  *prometheus.HistogramVec
	fetches    *prometheus.CounterVec
	fetchBytes prometheus.Counter
	builds     *prometheus.CounterVec
	adds       *prometheus.CounterVec
	batchSize  prometheus.Histogram
}

var _ ahsp.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ahsp_operation_latency_seconds",
			Help:    "Latency of reference operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahsp_fetches_total",
			Help: "Genomes resolved, by origin",
		}, []string{"origin"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahsp_fetch_bytes_total",
			Help: "Sequence bytes downloaded from providers",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahsp_signature_builds_total",
			Help: "Signatures built",
		}, []string{"status"}),
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahsp_signature_adds_total",
			Help: "Signature commits, by outcome",
		}, []string{"status"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ahsp_batch_items",
			Help:    "Items per processed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	for _, col := range []prometheus.Collector{c.opLatency, c.fetches, c.fetchBytes, c.builds, c.adds, c.batchSize} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSearch implements ahsp.MetricsCollector.
func (c *Collector) RecordSearch(_ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
}

// RecordFetch implements ahsp.MetricsCollector.
func (c *Collector) RecordFetch(cached bool, bytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("fetch", status(err)).Observe(d.Seconds())
	switch {
	case err != nil:
		c.fetches.WithLabelValues("error").Inc()
	case cached:
		c.fetches.WithLabelValues("cache").Inc()
	default:
		c.fetches.WithLabelValues("provider").Inc()
		c.fetchBytes.Add(float64(bytes))
	}
}

// RecordBuild implements ahsp.MetricsCollector.
func (c *Collector) RecordBuild(count, failed int, d time.Duration) {
	c.opLatency.WithLabelValues("build", "success").Observe(d.Seconds())
	c.builds.WithLabelValues("success").Add(float64(count - failed))
	c.builds.WithLabelValues("error").Add(float64(failed))
}

// RecordAdd implements ahsp.MetricsCollector.
func (c *Collector) RecordAdd(s ahsp.Status, d time.Duration, err error) {
	c.opLatency.WithLabelValues("add", status(err)).Observe(d.Seconds())
	c.adds.WithLabelValues(s.String()).Inc()
}

// RecordBatch implements ahsp.MetricsCollector.
func (c *Collector) RecordBatch(count, failed int, d time.Duration) {
	c.opLatency.WithLabelValues("batch", status(nil)).Observe(d.Seconds())
	c.batchSize.Observe(float64(count))
}
