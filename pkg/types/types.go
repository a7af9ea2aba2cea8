package types

import (
	"fmt"
	"time"
)

// ByteRange identifies a half-open byte span [Offset, Offset+Length)
// within an object.
type ByteRange struct {
	Offset int64
	Length int64
}

// String formats the range the way HTTP range headers spell it.
func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// CacheKey identifies a cached unit: an object path plus an optional
// byte range. A whole-object read and a ranged read of the same path
// are distinct keys. Keys compare by exact equality; overlapping but
// non-identical ranges are unrelated entries.
type CacheKey struct {
	Path   string
	Range  ByteRange
	Ranged bool
}

// WholeObjectKey returns the cache key for a full-object read of path.
func WholeObjectKey(path string) CacheKey {
	return CacheKey{Path: path}
}

// RangeKey returns the cache key for a ranged read of path.
func RangeKey(path string, rng ByteRange) CacheKey {
	return CacheKey{Path: path, Range: rng, Ranged: true}
}

// String renders the key for use as a coalescing group key. The kind
// prefix keeps a whole-object key from ever colliding with a ranged key
// whose path happens to contain the range suffix.
func (k CacheKey) String() string {
	if !k.Ranged {
		return "w:" + k.Path
	}
	return fmt.Sprintf("r:%s#%d+%d", k.Path, k.Range.Offset, k.Range.Length)
}

// ObjectInfo describes an object's metadata as reported by the backend.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// CacheStats is a point-in-time snapshot of cache engine counters.
type CacheStats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	Invalidations uint64  `json:"invalidations"`
	Rejected      uint64  `json:"rejected"`
	Entries       int     `json:"entries"`
	Size          int64   `json:"size"`
	Capacity      int64   `json:"capacity"`
	HitRate       float64 `json:"hit_rate"`
}
