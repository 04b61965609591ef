// Package prometheus exports chunk manager metrics to Prometheus.
package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/chunkidx"
)

var _ chunkidx.MetricsCollector = (*Collector)(nil)

// Collector implements chunkidx.MetricsCollector with Prometheus metrics.
type Collector struct {
	attaches        *prom.CounterVec
	detaches        prom.Counter
	fetches         *prom.CounterVec
	fetchBytes      prom.Counter
	fetchLatency    prom.Histogram
	enumerations    *prom.CounterVec
	enumLatency     prom.Histogram
	fanouts         prom.Counter
	fanoutChunks    *prom.CounterVec
	fanoutLatency   prom.Histogram
	storageFailures *prom.CounterVec
}

// New creates a Collector and registers its metrics with reg. A nil reg
// uses the default registerer.
func New(namespace string, reg prom.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	const subsystem = "chunks"

	c := &Collector{
		attaches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attached_total",
			Help:      "Chunks attached, by source",
		}, []string{"source"}),
		detaches: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "detached_total",
			Help:      "Chunks detached",
		}),
		fetches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_total",
			Help:      "Chunk downloads, by status",
		}, []string{"status"}),
		fetchBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetched_bytes_total",
			Help:      "Bytes downloaded into the chunk cache",
		}),
		fetchLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of chunk downloads",
			Buckets:   prom.ExponentialBuckets(0.01, 2, 12),
		}),
		enumerations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enumerations_total",
			Help:      "Content hash enumerations, by result",
		}, []string{"result"}),
		enumLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enumerate_duration_seconds",
			Help:      "Duration of content hash enumerations",
			Buckets:   prom.ExponentialBuckets(1e-6, 4, 10),
		}),
		fanouts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fanouts_total",
			Help:      "Multi-chunk queries run",
		}),
		fanoutChunks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fanout_chunks_total",
			Help:      "Chunks visited by multi-chunk queries, by status",
		}, []string{"status"}),
		fanoutLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fanout_duration_seconds",
			Help:      "Duration of multi-chunk queries",
			Buckets:   prom.DefBuckets,
		}),
		storageFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_failures_total",
			Help:      "Sections that failed to load, by index kind",
		}, []string{"kind"}),
	}

	for _, m := range []prom.Collector{
		c.attaches, c.detaches, c.fetches, c.fetchBytes, c.fetchLatency,
		c.enumerations, c.enumLatency, c.fanouts, c.fanoutChunks,
		c.fanoutLatency, c.storageFailures,
	} {
		if err := reg.Register(m); err != nil {
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

func (c *Collector) RecordAttach(source string) {
	c.attaches.WithLabelValues(source).Inc()
}

func (c *Collector) RecordDetach() {
	c.detaches.Inc()
}

func (c *Collector) RecordFetch(bytes int64, d time.Duration, err error) {
	c.fetches.WithLabelValues(status(err)).Inc()
	c.fetchBytes.Add(float64(bytes))
	c.fetchLatency.Observe(d.Seconds())
}

func (c *Collector) RecordEnumerate(found bool, d time.Duration, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "hit"
	}
	c.enumerations.WithLabelValues(result).Inc()
	c.enumLatency.Observe(d.Seconds())
}

func (c *Collector) RecordFanout(visited, failed int, d time.Duration) {
	c.fanouts.Inc()
	c.fanoutChunks.WithLabelValues("visited").Add(float64(visited))
	c.fanoutChunks.WithLabelValues("failed").Add(float64(failed))
	c.fanoutLatency.Observe(d.Seconds())
}

func (c *Collector) RecordStorageFailure(kind string) {
	c.storageFailures.WithLabelValues(kind).Inc()
}
