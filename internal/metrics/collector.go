// Package metrics exposes cache behavior to Prometheus: hit/miss and
// coalescing counters, fetch latency, and engine gauges scraped live
// from the cache engine.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objcache/objcache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefaultConfig returns metrics defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9145,
		Path:      "/metrics",
		Namespace: "objcache",
	}
}

// Collector records facade signals and exports engine state. A nil
// Collector is a no-op, so callers never need to guard their calls.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	coalesced     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	server *http.Server
}

// NewCollector creates a collector and registers its metrics, plus a
// live gauge view of cache when non-nil.
func NewCollector(config *Config, cache types.ByteCache) (*Collector, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if !config.Enabled {
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:   config,
		registry: registry,
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_hits_total",
			Help:      "Reads served from the cache engine.",
		}, []string{"op"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_misses_total",
			Help:      "Reads that required a backend fetch.",
		}, []string{"op"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "coalesced_fetches_total",
			Help:      "Misses that attached to an already-pending fetch.",
		}, []string{"op"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Backend fetch latency for cache misses.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	for _, col := range []prometheus.Collector{c.hits, c.misses, c.coalesced, c.fetchDuration} {
		if err := registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	if cache != nil {
		if err := registry.Register(newEngineCollector(config.Namespace, cache)); err != nil {
			return nil, fmt.Errorf("failed to register engine collector: %w", err)
		}
	}

	return c, nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordHit counts a cache hit for op.
func (c *Collector) RecordHit(op string) {
	if c == nil {
		return
	}
	c.hits.WithLabelValues(op).Inc()
}

// RecordMiss counts a cache miss; coalesced marks misses that shared
// an in-flight fetch instead of issuing their own.
func (c *Collector) RecordMiss(op string, coalesced bool) {
	if c == nil {
		return
	}
	c.misses.WithLabelValues(op).Inc()
	if coalesced {
		c.coalesced.WithLabelValues(op).Inc()
	}
}

// ObserveFetch records a backend fetch duration.
func (c *Collector) ObserveFetch(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// engineCollector reads engine counters at scrape time so the gauges
// never lag the cache.
type engineCollector struct {
	cache types.ByteCache

	entries       *prometheus.Desc
	sizeBytes     *prometheus.Desc
	capacityBytes *prometheus.Desc
	evictions     *prometheus.Desc
	invalidations *prometheus.Desc
	rejected      *prometheus.Desc
}

func newEngineCollector(namespace string, cache types.ByteCache) *engineCollector {
	return &engineCollector{
		cache: cache,
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_entries"),
			"Number of live cache entries.", nil, nil),
		sizeBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_size_bytes"),
			"Total weight of live cache entries.", nil, nil),
		capacityBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_capacity_bytes"),
			"Current capacity target set by the memory monitor.", nil, nil),
		evictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_evictions_total"),
			"Entries evicted under capacity pressure.", nil, nil),
		invalidations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_invalidations_total"),
			"Entries removed by write/delete/rename invalidation.", nil, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_rejected_inserts_total"),
			"Inserts rejected because the payload exceeded capacity.", nil, nil),
	}
}

func (ec *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ec.entries
	ch <- ec.sizeBytes
	ch <- ec.capacityBytes
	ch <- ec.evictions
	ch <- ec.invalidations
	ch <- ec.rejected
}

func (ec *engineCollector) Collect(ch chan<- prometheus.Metric) {
	stats := ec.cache.Stats()
	ch <- prometheus.MustNewConstMetric(ec.entries, prometheus.GaugeValue, float64(stats.Entries))
	ch <- prometheus.MustNewConstMetric(ec.sizeBytes, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(ec.capacityBytes, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(ec.evictions, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(ec.invalidations, prometheus.CounterValue, float64(stats.Invalidations))
	ch <- prometheus.MustNewConstMetric(ec.rejected, prometheus.CounterValue, float64(stats.Rejected))
}
