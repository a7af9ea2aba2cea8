// Package cachestore implements the caching object store: an
// ObjectStore decorator that serves reads from the cache engine,
// deduplicates concurrent misses through the coalescer, and keeps the
// cache consistent with writes by pass-through invalidation.
package cachestore

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objcache/objcache/internal/coalesce"
	"github.com/objcache/objcache/pkg/storeerr"
	"github.com/objcache/objcache/pkg/types"
)

// Observer receives operational signals from the facade. Implemented
// by the metrics collector; a nil Observer disables observation.
type Observer interface {
	RecordHit(op string)
	RecordMiss(op string, coalesced bool)
	ObserveFetch(op string, d time.Duration)
}

// Config tunes the caching facade.
type Config struct {
	// CacheWholeReads enables caching for Get. Disabled, Get passes
	// straight through to the inner store.
	CacheWholeReads bool

	// CacheRangedReads enables caching for GetRange and GetRanges.
	CacheRangedReads bool

	// Parallelism bounds concurrent per-range fetches in GetRanges.
	// Zero means the number of CPUs.
	Parallelism int

	// Logger for facade events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives hit/miss/fetch signals. Optional.
	Metrics Observer
}

// DefaultConfig enables caching for both read kinds.
func DefaultConfig() *Config {
	return &Config{
		CacheWholeReads:  true,
		CacheRangedReads: true,
	}
}

// Store is the caching ObjectStore facade. Reads route through the
// cache engine and the coalescer; mutations delegate to the inner
// store first and invalidate the affected paths before returning, so a
// subsequent read always observes the new state.
type Store struct {
	inner     types.ObjectStore
	cache     types.ByteCache
	coalescer *coalesce.Coalescer

	cacheWhole  bool
	cacheRanged bool
	parallelism int
	logger      *slog.Logger
	metrics     Observer
}

// New creates a caching facade over inner. A nil config uses defaults.
func New(inner types.ObjectStore, cache types.ByteCache, cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		inner:       inner,
		cache:       cache,
		coalescer:   coalesce.New(cache),
		cacheWhole:  cfg.CacheWholeReads,
		cacheRanged: cfg.CacheRangedReads,
		parallelism: parallelism,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Get reads the entire object at path, serving repeated reads from the
// cache.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if !s.cacheWhole {
		return s.inner.Get(ctx, path)
	}
	return s.cachedRead(ctx, "get", types.WholeObjectKey(path), func(ctx context.Context) ([]byte, error) {
		return s.inner.Get(ctx, path)
	})
}

// GetRange reads a byte range of the object at path. Each exact range
// is its own cache key; overlapping ranges are not merged.
func (s *Store) GetRange(ctx context.Context, path string, rng types.ByteRange) ([]byte, error) {
	if rng.Offset < 0 || rng.Length <= 0 {
		return nil, storeerr.InvalidRange("GetRange", path, "offset must be >= 0 and length > 0")
	}
	if !s.cacheRanged {
		return s.inner.GetRange(ctx, path, rng)
	}
	return s.cachedRead(ctx, "get_range", types.RangeKey(path, rng), func(ctx context.Context) ([]byte, error) {
		return s.inner.GetRange(ctx, path, rng)
	})
}

// GetRanges reads several byte ranges of the object at path as
// independent per-range lookups and fetches, bounded by the configured
// parallelism.
func (s *Store) GetRanges(ctx context.Context, path string, rngs []types.ByteRange) ([][]byte, error) {
	results := make([][]byte, len(rngs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, rng := range rngs {
		g.Go(func() error {
			data, err := s.GetRange(gctx, path, rng)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// cachedRead serves key from the cache, or coalesces a fetch through
// the inner store on a miss. Internal cache faults never surface: a
// payload the engine refuses to admit is still returned to the caller.
func (s *Store) cachedRead(ctx context.Context, op string, key types.CacheKey, fetch coalesce.Fetcher) ([]byte, error) {
	if data, ok := s.cache.Lookup(key); ok {
		if s.metrics != nil {
			s.metrics.RecordHit(op)
		}
		return data, nil
	}

	start := time.Now()
	data, shared, err := s.coalescer.Fetch(ctx, key, fetch)
	if s.metrics != nil {
		s.metrics.RecordMiss(op, shared)
		if err == nil {
			s.metrics.ObserveFetch(op, time.Since(start))
		}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put writes data to path through the inner store, then invalidates
// the path so any subsequent read observes the new bytes.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if err := s.inner.Put(ctx, path, data); err != nil {
		return err
	}
	s.invalidate(path)
	return nil
}

// Delete removes the object at path and drops every cached entry for
// it.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.inner.Delete(ctx, path); err != nil {
		return err
	}
	s.invalidate(path)
	return nil
}

// Copy duplicates from to to and invalidates both paths.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	if err := s.inner.Copy(ctx, from, to); err != nil {
		return err
	}
	s.invalidate(from)
	s.invalidate(to)
	return nil
}

// Rename moves from to to and invalidates both paths.
func (s *Store) Rename(ctx context.Context, from, to string) error {
	if err := s.inner.Rename(ctx, from, to); err != nil {
		return err
	}
	s.invalidate(from)
	s.invalidate(to)
	return nil
}

// List passes through uncached; listing staleness is worse than the
// saved round trip.
func (s *Store) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	return s.inner.List(ctx, prefix)
}

// Head passes through uncached.
func (s *Store) Head(ctx context.Context, path string) (*types.ObjectInfo, error) {
	return s.inner.Head(ctx, path)
}

// Stats returns the cache engine counters.
func (s *Store) Stats() types.CacheStats {
	return s.cache.Stats()
}

func (s *Store) invalidate(path string) {
	s.coalescer.InvalidatePath(path)
	s.logger.Debug("invalidated cached entries", "path", path)
}
