package cachestore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/objcache/objcache/internal/engine"
	"github.com/objcache/objcache/internal/storage/mem"
	"github.com/objcache/objcache/pkg/storeerr"
	"github.com/objcache/objcache/pkg/types"
)

func newTestStore(t *testing.T) (*Store, *mem.Store, *engine.Engine) {
	t.Helper()
	inner := mem.New()
	eng := engine.New(&engine.Config{Capacity: 1 << 20})
	return New(inner, eng, nil), inner, eng
}

func TestStore_ReadAfterWrite(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	b1 := []byte("first version")
	b2 := []byte("second version, longer")

	if err := s.Put(ctx, "obj", b1); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, b1) {
		t.Fatalf("expected %q, got %q", b1, got)
	}

	// Overwrite: the cached first version must never be observed again.
	if err := s.Put(ctx, "obj", b2); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(ctx, "obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, b2) {
		t.Errorf("read after overwrite returned stale bytes: %q", got)
	}
}

func TestStore_RepeatedReadsHitCache(t *testing.T) {
	s, inner, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "obj", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Get(ctx, "obj"); err != nil {
			t.Fatal(err)
		}
	}
	if got := inner.Calls("Get", "obj"); got != 1 {
		t.Errorf("expected 1 inner fetch for 5 reads, got %d", got)
	}
	if stats := s.Stats(); stats.Hits != 4 {
		t.Errorf("expected 4 cache hits, got %d", stats.Hits)
	}
}

func TestStore_CoalescesConcurrentMisses(t *testing.T) {
	s, inner, _ := newTestStore(t)
	ctx := context.Background()

	payload := []byte("0123456789abcdef")
	if err := s.Put(ctx, "obj", payload); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	inner.OnFetch = func(path string) {
		once.Do(func() { close(started) })
		<-release
	}

	rng := types.ByteRange{Offset: 4, Length: 8}
	const callers = 16
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetRange(ctx, "obj", rng)
		}(i)
	}

	<-started
	// Let the remaining callers join the pending fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := inner.Calls("GetRange", "obj"); got != 1 {
		t.Errorf("expected exactly 1 inner fetch, got %d", got)
	}
	want := payload[4:12]
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], want) {
			t.Errorf("caller %d: expected %q, got %q", i, want, results[i])
		}
	}
}

func TestStore_InvalidationCompleteness(t *testing.T) {
	s, inner, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "obj", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	ranges := []types.ByteRange{
		{Offset: 0, Length: 2},
		{Offset: 2, Length: 4},
		{Offset: 6, Length: 4},
	}
	for _, rng := range ranges {
		if _, err := s.GetRange(ctx, "obj", rng); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Get(ctx, "obj"); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "obj"); err != nil {
		t.Fatal(err)
	}

	// Every cached range is gone: the next read reaches the inner
	// store and reports the deletion.
	fetchesBefore := inner.Calls("GetRange", "obj")
	for _, rng := range ranges {
		if _, err := s.GetRange(ctx, "obj", rng); !storeerr.IsNotFound(err) {
			t.Errorf("range %v: expected NotFound after delete, got %v", rng, err)
		}
	}
	if got := inner.Calls("GetRange", "obj"); got != fetchesBefore+len(ranges) {
		t.Errorf("expected %d inner fetches after invalidation, got %d", fetchesBefore+len(ranges), got)
	}
}

func TestStore_StaleFetchDiscarded(t *testing.T) {
	s, inner, eng := newTestStore(t)
	ctx := context.Background()

	oldBytes := []byte("old old old")
	newBytes := []byte("new new new")
	if err := s.Put(ctx, "obj", oldBytes); err != nil {
		t.Fatal(err)
	}

	rng := types.ByteRange{Offset: 0, Length: 3}
	release := make(chan struct{})
	started := make(chan struct{})
	var gate atomic.Bool
	gate.Store(true)
	inner.OnFetch = func(path string) {
		if gate.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
	}

	// Slow fetch for (obj, rng) starts against the old bytes.
	fetchDone := make(chan []byte, 1)
	go func() {
		data, err := s.GetRange(ctx, "obj", rng)
		if err != nil {
			t.Errorf("slow fetch failed: %v", err)
		}
		fetchDone <- data
	}()
	<-started

	// Overwrite while the fetch is pending.
	if err := s.Put(ctx, "obj", newBytes); err != nil {
		t.Fatal(err)
	}
	close(release)
	slow := <-fetchDone

	// The caller that started before the write sees the bytes its
	// fetch returned, but they must not have been cached.
	if !bytes.Equal(slow, oldBytes[:3]) {
		t.Errorf("slow fetch expected old bytes, got %q", slow)
	}
	if data, ok := eng.Lookup(types.RangeKey("obj", rng)); ok && bytes.Equal(data, oldBytes[:3]) {
		t.Error("stale fetch result was cached despite the overwrite")
	}

	// A following read reflects the new bytes.
	got, err := s.GetRange(ctx, "obj", rng)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, newBytes[:3]) {
		t.Errorf("read after overwrite expected %q, got %q", newBytes[:3], got)
	}
}

func TestStore_GetRanges(t *testing.T) {
	s, inner, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "obj", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	rngs := []types.ByteRange{
		{Offset: 0, Length: 3},
		{Offset: 3, Length: 3},
		{Offset: 6, Length: 4},
	}
	results, err := s.GetRanges(ctx, "obj", rngs)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"012", "345", "6789"}
	for i, w := range want {
		if string(results[i]) != w {
			t.Errorf("range %d: expected %q, got %q", i, w, results[i])
		}
	}

	// Each range is its own key; repeating the call is all hits.
	if _, err := s.GetRanges(ctx, "obj", rngs); err != nil {
		t.Fatal(err)
	}
	if got := inner.Calls("GetRange", "obj"); got != len(rngs) {
		t.Errorf("expected %d inner fetches total, got %d", len(rngs), got)
	}
}

func TestStore_InvalidRange(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRange(ctx, "obj", types.ByteRange{Offset: -1, Length: 5}); !storeerr.IsInvalidRange(err) {
		t.Errorf("expected InvalidRange for negative offset, got %v", err)
	}
	if _, err := s.GetRange(ctx, "obj", types.ByteRange{Offset: 0, Length: 0}); !storeerr.IsInvalidRange(err) {
		t.Errorf("expected InvalidRange for zero length, got %v", err)
	}
}

func TestStore_NotFoundPropagates(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !storeerr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStore_RenameInvalidatesBothPaths(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "src", []byte("content")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "src"); err != nil {
		t.Fatal(err)
	}

	if err := s.Rename(ctx, "src", "dst"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, "src"); !storeerr.IsNotFound(err) {
		t.Errorf("expected NotFound reading renamed-away source, got %v", err)
	}
	got, err := s.Get(ctx, "dst")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "content" {
		t.Errorf("expected %q at destination, got %q", "content", got)
	}
}

func TestStore_CopyInvalidatesDestination(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "src", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "dst", []byte("stale")); err != nil {
		t.Fatal(err)
	}
	// Cache the destination's old content.
	if _, err := s.Get(ctx, "dst"); err != nil {
		t.Fatal(err)
	}

	if err := s.Copy(ctx, "src", "dst"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "dst")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Errorf("read after copy returned stale destination bytes: %q", got)
	}
}

func TestStore_ListHeadPassThrough(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "data/a", []byte("x")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		infos, err := s.List(ctx, "data/")
		if err != nil {
			t.Fatal(err)
		}
		if len(infos) != 1 {
			t.Fatalf("unexpected listing: %+v", infos)
		}
		if _, err := s.Head(ctx, "data/a"); err != nil {
			t.Fatal(err)
		}
	}

	// Listing and metadata are never cached.
	if stats := s.Stats(); stats.Hits != 0 {
		t.Errorf("list/head must not touch the cache, got %d hits", stats.Hits)
	}
}

func TestStore_PerKindCacheDisable(t *testing.T) {
	inner := mem.New()
	eng := engine.New(&engine.Config{Capacity: 1 << 20})
	s := New(inner, eng, &Config{CacheWholeReads: false, CacheRangedReads: true})
	ctx := context.Background()

	if err := s.Put(ctx, "obj", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Get(ctx, "obj"); err != nil {
			t.Fatal(err)
		}
	}
	if got := inner.Calls("Get", "obj"); got != 3 {
		t.Errorf("whole-object caching disabled: expected 3 inner fetches, got %d", got)
	}

	rng := types.ByteRange{Offset: 0, Length: 4}
	for i := 0; i < 3; i++ {
		if _, err := s.GetRange(ctx, "obj", rng); err != nil {
			t.Fatal(err)
		}
	}
	if got := inner.Calls("GetRange", "obj"); got != 1 {
		t.Errorf("ranged caching enabled: expected 1 inner fetch, got %d", got)
	}
}

func TestStore_FailedWriteDoesNotInvalidate(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "obj", []byte("cached")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "obj"); err != nil {
		t.Fatal(err)
	}

	// Deleting a different, missing path fails in the inner store and
	// must leave the cached object alone.
	if err := s.Delete(ctx, "missing"); !storeerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if stats := s.Stats(); stats.Entries == 0 {
		t.Error("failed mutation must not invalidate cached entries")
	}
}

func TestStore_ConcurrentMixedWorkload(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				path := fmt.Sprintf("obj-%d", i%10)
				switch i % 4 {
				case 0:
					_ = s.Put(ctx, path, []byte(fmt.Sprintf("payload-%d-%d", g, i)))
				case 1:
					_, _ = s.Get(ctx, path)
				case 2:
					_, _ = s.GetRange(ctx, path, types.ByteRange{Offset: 0, Length: 4})
				case 3:
					_ = s.Delete(ctx, path)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	if stats.Size > stats.Capacity {
		t.Errorf("capacity invariant violated: size=%d capacity=%d", stats.Size, stats.Capacity)
	}
}
