// Package objcache provides a read-through caching layer for object
// stores. A CachedStore wraps any ObjectStore implementation, serving
// repeated reads from an in-memory cache whose capacity tracks
// available system memory, deduplicating concurrent fetches of the same
// object, and invalidating cached bytes whenever the object is written,
// deleted, copied, or renamed through the wrapper.
package objcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objcache/objcache/internal/cachestore"
	"github.com/objcache/objcache/internal/config"
	"github.com/objcache/objcache/internal/engine"
	"github.com/objcache/objcache/internal/memmon"
	"github.com/objcache/objcache/internal/metrics"
	"github.com/objcache/objcache/pkg/types"
)

// CachedStore decorates an ObjectStore with read caching. It satisfies
// types.ObjectStore itself, so callers swap it in wherever they used
// the inner store.
type CachedStore struct {
	*cachestore.Store

	engine    *engine.Engine
	monitor   *memmon.Monitor
	collector *metrics.Collector
	logger    *slog.Logger
}

// New builds a caching layer over inner from cfg. A nil cfg uses
// defaults. The returned store caches immediately; Start activates the
// memory monitor and the metrics endpoint.
func New(inner types.ObjectStore, cfg *config.Configuration) (*CachedStore, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	floor, err := cfg.FloorBytes()
	if err != nil {
		return nil, err
	}
	ceiling, err := cfg.CeilingBytes()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()

	eng := engine.New(&engine.Config{
		Capacity:        floor,
		EvictionSamples: cfg.Cache.EvictionSamples,
	})

	monitor := memmon.New(eng, memmon.Config{
		Floor:          floor,
		Ceiling:        ceiling,
		Fraction:       cfg.Memory.Fraction,
		Interval:       cfg.Memory.SampleInterval,
		MinResizeDelta: cfg.Memory.MinResizeDelta,
		Logger:         logger,
	})

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: cfg.Metrics.Namespace,
	}, eng)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	store := cachestore.New(inner, eng, &cachestore.Config{
		CacheWholeReads:  cfg.Cache.CacheWholeReads,
		CacheRangedReads: cfg.Cache.CacheRangedReads,
		Logger:           logger,
		Metrics:          collector,
	})

	return &CachedStore{
		Store:     store,
		engine:    eng,
		monitor:   monitor,
		collector: collector,
		logger:    logger,
	}, nil
}

// Start activates the memory monitor and, when enabled, the Prometheus
// endpoint.
func (cs *CachedStore) Start(ctx context.Context) error {
	if err := cs.monitor.Start(ctx); err != nil {
		return err
	}
	if err := cs.collector.Start(ctx); err != nil {
		cs.monitor.Stop()
		return err
	}
	cs.logger.Info("cache layer started",
		"capacity", cs.engine.Capacity())
	return nil
}

// Close stops the memory monitor and the metrics endpoint. The store
// remains usable as a plain pass-through afterwards.
func (cs *CachedStore) Close(ctx context.Context) error {
	cs.monitor.Stop()
	return cs.collector.Stop(ctx)
}
