// Package htmetrics defines the Prometheus collectors the storage engine
// exposes on its hot path (§4.1, §4.2.1), mirroring how this corpus's
// storage-adjacent packages (lsmkv's Metrics, weaviate's diskio meters)
// curry a handful of named collectors once at construction rather than
// looking a global registry up on every call.
package htmetrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the storage engine's metrics. htio records the cache,
// latency and bytes-on-disk metrics; the Bloom counters are recorded only
// by callers of BloomHit, and htbloom itself does not call it. The zero
// value is a valid, fully disabled no-op set (every method is safe to call
// on a nil *Collectors).
type Collectors struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ReadLatency  prometheus.Histogram
	WriteLatency prometheus.Histogram

	BytesOnDisk prometheus.Gauge

	BloomTruePositive prometheus.Counter
	BloomTrueNegative prometheus.Counter
}

// New constructs a Collectors and registers each metric with reg. Passing a
// nil Registerer builds the collectors without registering them, which is
// convenient for tests that don't want to touch the default registry.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "histtree",
			Subsystem: "io",
			Name:      "cache_hits_total",
			Help:      "Direct-mapped node cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "histtree",
			Subsystem: "io",
			Name:      "cache_misses_total",
			Help:      "Direct-mapped node cache misses.",
		}),
		ReadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "histtree",
			Subsystem: "io",
			Name:      "read_latency_seconds",
			Help:      "Latency of a single node block read.",
			Buckets:   prometheus.DefBuckets,
		}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "histtree",
			Subsystem: "io",
			Name:      "write_latency_seconds",
			Help:      "Latency of a single node block write.",
			Buckets:   prometheus.DefBuckets,
		}),
		BytesOnDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "histtree",
			Subsystem: "io",
			Name:      "bytes_on_disk",
			Help:      "Bytes written to the tree file so far.",
		}),
		BloomTruePositive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "histtree",
			Subsystem: "bloom",
			Name:      "true_positive_total",
			Help:      "MaybeContains calls that matched an actual interval.",
		}),
		BloomTrueNegative: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "histtree",
			Subsystem: "bloom",
			Name:      "true_negative_total",
			Help:      "MaybeContains calls that correctly reported absence.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.CacheHits, c.CacheMisses, c.ReadLatency, c.WriteLatency,
			c.BytesOnDisk, c.BloomTruePositive, c.BloomTrueNegative)
	}
	return c
}

func (c *Collectors) cacheHit() {
	if c != nil {
		c.CacheHits.Inc()
	}
}

func (c *Collectors) cacheMiss() {
	if c != nil {
		c.CacheMisses.Inc()
	}
}

func (c *Collectors) observeRead(seconds float64) {
	if c != nil {
		c.ReadLatency.Observe(seconds)
	}
}

func (c *Collectors) observeWrite(seconds float64) {
	if c != nil {
		c.WriteLatency.Observe(seconds)
	}
}

func (c *Collectors) setBytesOnDisk(n float64) {
	if c != nil {
		c.BytesOnDisk.Set(n)
	}
}

// CacheHit records a node cache hit.
func (c *Collectors) CacheHit() { c.cacheHit() }

// CacheMiss records a node cache miss.
func (c *Collectors) CacheMiss() { c.cacheMiss() }

// ObserveRead records the latency of a completed block read.
func (c *Collectors) ObserveRead(seconds float64) { c.observeRead(seconds) }

// ObserveWrite records the latency of a completed block write.
func (c *Collectors) ObserveWrite(seconds float64) { c.observeWrite(seconds) }

// SetBytesOnDisk records the current size of the tree file.
func (c *Collectors) SetBytesOnDisk(n float64) { c.setBytesOnDisk(n) }

// BloomHit records a Bloom filter query outcome.
func (c *Collectors) BloomHit(truePositive bool) {
	if c == nil {
		return
	}
	if truePositive {
		c.BloomTruePositive.Inc()
	} else {
		c.BloomTrueNegative.Inc()
	}
}
