// Package mem provides an in-memory ObjectStore. It is the reference
// inner-store adapter and the deterministic backend for cache tests:
// calls are counted per operation and path, and a fetch hook lets
// tests hold a read open while concurrent mutations land.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objcache/objcache/pkg/storeerr"
	"github.com/objcache/objcache/pkg/types"
)

// Store is an in-memory object store safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	calls   map[string]int

	// OnFetch, when set, runs after a Get/GetRange has read its bytes
	// but before it returns. Tests use it to simulate slow fetches.
	OnFetch func(path string)
}

type object struct {
	data     []byte
	modified time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times op was invoked for path.
func (s *Store) Calls(op, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op+" "+path]
}

func (s *Store) record(op, path string) {
	s.calls[op+" "+path]++
}

// Get reads the entire object at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	s.record("Get", path)
	obj, ok := s.objects[path]
	var data []byte
	if ok {
		data = append([]byte(nil), obj.data...)
	}
	s.mu.Unlock()

	if !ok {
		return nil, storeerr.NotFound("Get", path, nil)
	}
	if s.OnFetch != nil {
		s.OnFetch(path)
	}
	return data, nil
}

// GetRange reads a byte range of the object at path.
func (s *Store) GetRange(ctx context.Context, path string, rng types.ByteRange) ([]byte, error) {
	if rng.Offset < 0 || rng.Length <= 0 {
		return nil, storeerr.InvalidRange("GetRange", path, "offset must be >= 0 and length > 0")
	}

	s.mu.Lock()
	s.record("GetRange", path)
	obj, ok := s.objects[path]
	var data []byte
	var invalid bool
	if ok {
		if rng.Offset >= int64(len(obj.data)) {
			invalid = true
		} else {
			end := rng.Offset + rng.Length
			if end > int64(len(obj.data)) {
				end = int64(len(obj.data))
			}
			data = append([]byte(nil), obj.data[rng.Offset:end]...)
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil, storeerr.NotFound("GetRange", path, nil)
	}
	if invalid {
		return nil, storeerr.InvalidRange("GetRange", path, "offset beyond object size")
	}
	if s.OnFetch != nil {
		s.OnFetch(path)
	}
	return data, nil
}

// GetRanges reads several byte ranges of the object at path.
func (s *Store) GetRanges(ctx context.Context, path string, rngs []types.ByteRange) ([][]byte, error) {
	out := make([][]byte, len(rngs))
	for i, rng := range rngs {
		data, err := s.GetRange(ctx, path, rng)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// Put writes data to path, replacing any existing object.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Put", path)
	s.objects[path] = object{data: append([]byte(nil), data...), modified: time.Now()}
	return nil
}

// Delete removes the object at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Delete", path)
	if _, ok := s.objects[path]; !ok {
		return storeerr.NotFound("Delete", path, nil)
	}
	delete(s.objects, path)
	return nil
}

// Copy duplicates the object at from to to.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Copy", from)
	obj, ok := s.objects[from]
	if !ok {
		return storeerr.NotFound("Copy", from, nil)
	}
	s.objects[to] = object{data: append([]byte(nil), obj.data...), modified: time.Now()}
	return nil
}

// Rename moves the object at from to to.
func (s *Store) Rename(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Rename", from)
	obj, ok := s.objects[from]
	if !ok {
		return storeerr.NotFound("Rename", from, nil)
	}
	s.objects[to] = obj
	delete(s.objects, from)
	return nil
}

// List enumerates objects under prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []types.ObjectInfo
	for path, obj := range s.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, types.ObjectInfo{
				Key:          path,
				Size:         int64(len(obj.data)),
				LastModified: obj.modified,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Head fetches metadata for the object at path.
func (s *Store) Head(ctx context.Context, path string) (*types.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, storeerr.NotFound("Head", path, nil)
	}
	return &types.ObjectInfo{
		Key:          path,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}, nil
}
