// Package engine implements the cache engine: a concurrent, weighted,
// capacity-bounded store of byte payloads keyed by object path plus
// optional byte range, with recency/frequency-aware eviction.
package engine

import (
	"container/list"
	"sync"
	"time"

	"github.com/objcache/objcache/pkg/types"
)

// DefaultCapacity is used when no capacity target is configured.
const DefaultCapacity = 2 * 1024 * 1024 * 1024 // 2GB

// DefaultEvictionSamples is how many tail entries are scored per
// eviction step.
const DefaultEvictionSamples = 8

// Config tunes the cache engine.
type Config struct {
	// Capacity is the initial capacity target in bytes.
	Capacity int64

	// EvictionSamples is the number of least-recently-used entries
	// scored when choosing an eviction victim. Larger values
	// approximate LFU more closely at the cost of a longer scan.
	EvictionSamples int
}

// entry owns one cached payload. Entries are immutable after insert;
// a changed object is invalidation plus a fresh insert.
type entry struct {
	key        types.CacheKey
	data       []byte
	weight     int64
	insertedAt time.Time
	lastAccess time.Time
	hits       int64
	element    *list.Element
}

// Engine is the only component holding cached bytes. All methods are
// safe for concurrent use; a lookup observes either the fully-old or
// fully-new payload for a key, never a partial one.
type Engine struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[types.CacheKey]*entry
	byPath   map[string]map[types.CacheKey]*entry
	lruList  *list.List // front = most recently used
	samples  int
	stats    types.CacheStats

	now func() time.Time // injectable for tests
}

// New creates a cache engine. A nil config uses defaults.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	samples := cfg.EvictionSamples
	if samples <= 0 {
		samples = DefaultEvictionSamples
	}

	return &Engine{
		capacity: capacity,
		items:    make(map[types.CacheKey]*entry),
		byPath:   make(map[string]map[types.CacheKey]*entry),
		lruList:  list.New(),
		samples:  samples,
		stats:    types.CacheStats{Capacity: capacity},
		now:      time.Now,
	}
}

// Lookup returns a copy of the cached payload for key, updating the
// recency and frequency statistics the eviction policy uses.
func (e *Engine) Lookup(key types.CacheKey) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.items[key]
	if !ok {
		e.stats.Misses++
		return nil, false
	}

	ent.lastAccess = e.now()
	ent.hits++
	e.lruList.MoveToFront(ent.element)
	e.stats.Hits++

	out := make([]byte, len(ent.data))
	copy(out, ent.data)
	return out, true
}

// Insert admits a payload under key. If the resulting total weight
// exceeds the capacity target, lowest-priority entries are evicted
// until the invariant holds again, never evicting the entry just
// inserted. A payload that alone exceeds the capacity target is
// rejected silently; the cache is advisory.
func (e *Engine) Insert(key types.CacheKey, data []byte) {
	weight := int64(len(data))
	if weight == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if weight > e.capacity {
		e.stats.Rejected++
		return
	}

	if old, ok := e.items[key]; ok {
		e.remove(old)
	}

	ent := &entry{
		key:        key,
		data:       append([]byte(nil), data...),
		weight:     weight,
		insertedAt: e.now(),
		lastAccess: e.now(),
		hits:       1,
	}
	ent.element = e.lruList.PushFront(ent)
	e.items[key] = ent
	keys, ok := e.byPath[key.Path]
	if !ok {
		keys = make(map[types.CacheKey]*entry)
		e.byPath[key.Path] = keys
	}
	keys[key] = ent
	e.size += weight

	e.evictToFit(&key)
}

// InvalidatePath removes every entry for path, whatever its range.
// Invalidating a path with no cached entries is a no-op.
func (e *Engine) InvalidatePath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ent := range e.byPath[path] {
		e.remove(ent)
		e.stats.Invalidations++
	}
}

// SetCapacity updates the capacity target. If the new target is below
// the current total weight, entries are evicted down to it before
// returning.
func (e *Engine) SetCapacity(target int64) {
	if target < 0 {
		target = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.capacity = target
	e.stats.Capacity = target
	e.evictToFit(nil)
}

// Size returns the current total weight in bytes.
func (e *Engine) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// Capacity returns the current capacity target in bytes.
func (e *Engine) Capacity() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capacity
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() types.CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.Entries = len(e.items)
	stats.Size = e.size
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// score ranks an entry for retention: access count decayed by idle
// time. Higher scores survive longer.
func (e *Engine) score(ent *entry, now time.Time) float64 {
	idle := now.Sub(ent.lastAccess).Seconds()
	return float64(ent.hits) / (1.0 + idle)
}

// evictToFit evicts until size <= capacity, skipping keep when
// non-nil. Victims are chosen by scoring a sample of entries from the
// LRU tail and evicting the lowest score, ties broken by oldest
// insertion. Must be called with the lock held.
func (e *Engine) evictToFit(keep *types.CacheKey) {
	now := e.now()
	for e.size > e.capacity && e.lruList.Len() > 0 {
		victim := e.pickVictim(keep, now)
		if victim == nil {
			return
		}
		e.remove(victim)
		e.stats.Evictions++
	}
}

func (e *Engine) pickVictim(keep *types.CacheKey, now time.Time) *entry {
	var victim *entry
	var victimScore float64

	scanned := 0
	for el := e.lruList.Back(); el != nil && scanned < e.samples; el = el.Prev() {
		ent := el.Value.(*entry)
		if keep != nil && ent.key == *keep {
			continue
		}
		scanned++
		s := e.score(ent, now)
		switch {
		case victim == nil, s < victimScore:
			victim, victimScore = ent, s
		case s == victimScore && ent.insertedAt.Before(victim.insertedAt):
			victim = ent
		}
	}
	return victim
}

// remove unlinks an entry from the map, the path index, and the LRU
// list. Must be called with the lock held.
func (e *Engine) remove(ent *entry) {
	e.lruList.Remove(ent.element)
	delete(e.items, ent.key)
	if keys, ok := e.byPath[ent.key.Path]; ok {
		delete(keys, ent.key)
		if len(keys) == 0 {
			delete(e.byPath, ent.key.Path)
		}
	}
	e.size -= ent.weight
}
