// Package coalesce deduplicates concurrent cache-miss fetches: at most
// one outstanding backend fetch per cache key, with every concurrent
// caller sharing the single outcome. Per-path generation counters
// order invalidations against in-flight fetches so a stale fetch never
// resurrects invalidated data.
package coalesce

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/objcache/objcache/pkg/types"
)

// Fetcher loads a payload from the inner store.
type Fetcher func(ctx context.Context) ([]byte, error)

// Coalescer tracks pending fetches and path generations. It owns no
// cached bytes; successful fetch results are handed to the cache it
// was constructed with.
type Coalescer struct {
	cache types.ByteCache
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// New creates a coalescer inserting successful fetches into cache.
func New(cache types.ByteCache) *Coalescer {
	return &Coalescer{
		cache: cache,
		gens:  make(map[string]uint64),
	}
}

// Generation returns the current invalidation generation for path.
func (c *Coalescer) Generation(path string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[path]
}

// InvalidatePath bumps the path's generation and removes the path's
// entries from the cache. Any fetch for the path that started under an
// earlier generation will discard its result instead of inserting it.
// The bump and the purge happen under one lock, the same lock admission
// takes, so an invalidation can never land between a fetch's generation
// check and its insert.
func (c *Coalescer) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[path]++
	c.cache.InvalidatePath(path)
}

// fetchResult pairs a payload with the path generation its fetch
// started under.
type fetchResult struct {
	data []byte
	gen  uint64
}

// Fetch resolves a cache miss for key. If no fetch for key is in
// flight, fetch is invoked once; callers arriving while it is pending
// attach as waiters and receive the same payload or error. On success
// the payload is inserted into the cache unless the path was
// invalidated after the fetch started. A caller that observed a
// generation newer than the fetch it attached to started under does
// not accept the pre-invalidation bytes; it fetches again.
//
// Cancellation is caller-local: a caller whose ctx is done stops
// waiting, but the shared fetch keeps running for the remaining
// waiters and its result is still cached.
func (c *Coalescer) Fetch(ctx context.Context, key types.CacheKey, fetch Fetcher) ([]byte, bool, error) {
	for {
		callerGen := c.Generation(key.Path)

		ch := c.group.DoChan(key.String(), func() (interface{}, error) {
			startGen := c.Generation(key.Path)

			// The fetch outlives any single waiter; detach it from the
			// initiating caller's cancellation.
			data, err := fetch(context.WithoutCancel(ctx))
			if err != nil {
				return nil, err
			}

			// Generation check and admission hold the same lock
			// InvalidatePath takes, so an invalidation orders strictly
			// before or after both.
			c.mu.Lock()
			if c.gens[key.Path] == startGen {
				c.cache.Insert(key, data)
			}
			c.mu.Unlock()

			return fetchResult{data: data, gen: startGen}, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Shared, res.Err
			}
			fr := res.Val.(fetchResult)
			if fr.gen < callerGen {
				// Joined a fetch that predates an invalidation this
				// caller already observed; its bytes may be stale.
				continue
			}
			return fr.data, res.Shared, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
