package types

import "context"

// ObjectStore is the storage contract consumed from the inner backend
// and reimplemented by the caching facade. Implementations must be safe
// for concurrent use.
type ObjectStore interface {
	// Get reads the entire object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// GetRange reads a byte range of the object at path.
	GetRange(ctx context.Context, path string, rng ByteRange) ([]byte, error)

	// GetRanges reads several byte ranges of the object at path.
	// Results are positionally aligned with rngs.
	GetRanges(ctx context.Context, path string, rngs []ByteRange) ([][]byte, error)

	// Put writes data to path, replacing any existing object.
	Put(ctx context.Context, path string, data []byte) error

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error

	// Copy duplicates the object at from to to.
	Copy(ctx context.Context, from, to string) error

	// Rename moves the object at from to to.
	Rename(ctx context.Context, from, to string) error

	// List enumerates objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Head fetches metadata for the object at path.
	Head(ctx context.Context, path string) (*ObjectInfo, error)
}

// ByteCache is a concurrent, capacity-bounded, weight-aware key-value
// cache for byte payloads. The eviction ordering is implementation
// defined as long as recently and frequently used entries survive
// preferentially under pressure. The cache is strictly advisory: a
// rejected insert is a silent no-op, never an error.
type ByteCache interface {
	// Lookup returns the cached payload for key and whether it was
	// present, updating recency/frequency statistics on a hit.
	Lookup(key CacheKey) ([]byte, bool)

	// Insert admits a payload, evicting lower-priority entries as
	// needed to stay within the capacity target. A payload larger
	// than the capacity target is not admitted.
	Insert(key CacheKey, data []byte)

	// InvalidatePath removes every entry whose key's path equals
	// path, whole-object and ranged alike.
	InvalidatePath(path string)

	// SetCapacity updates the capacity target, synchronously evicting
	// down to it when the cache is over the new target.
	SetCapacity(target int64)

	// Size returns the current total weight in bytes.
	Size() int64

	// Capacity returns the current capacity target in bytes.
	Capacity() int64

	// Stats returns a snapshot of the engine counters.
	Stats() CacheStats
}

// AvailableMemoryFunc reports currently available system memory in
// bytes. Injectable so monitor resize behavior is testable without
// real telemetry.
type AvailableMemoryFunc func() (uint64, error)
