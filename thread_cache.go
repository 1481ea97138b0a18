package go_pooled_bytebuf

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ThreadCache is a per goroutine front of an arena. It keeps recently released
// slots in bounded LIFO lists per size class, so that a goroutine allocating the
// same sizes over and over rarely touches the arena lock.
//
// A ThreadCache must only be used by the goroutine owning it. Close it when the
// goroutine is done, otherwise the slots it holds stay unavailable to others.
type ThreadCache struct {
	allocator *PooledAllocator
	// arena the cache is bound to, nil when pooling is disabled
	arena *arena

	tinyCaches   []*regionCache
	smallCaches  []*regionCache
	normalCaches []*regionCache

	maxCachedBufferCapacity int
	trimInterval            int
	allocations             int

	recycler *recycler[*pooledByteBuf]
	closed   bool
}

type cacheEntry struct {
	chunk  *chunk
	handle handle
}

// regionCache a bounded stack of slots of one size
type regionCache struct {
	class   sizeClass
	size    int
	entries []cacheEntry
	// hits since the previous trim
	allocations int
}

func newRegionCaches(class sizeClass, num, size int) []*regionCache {
	if size <= 0 || num <= 0 {
		return nil
	}
	caches := make([]*regionCache, num)
	for i := range caches {
		caches[i] = &regionCache{class: class, size: size}
	}
	return caches
}

func (r *regionCache) push(e cacheEntry) bool {
	if len(r.entries) >= r.size {
		return false
	}
	r.entries = append(r.entries, e)
	return true
}

func (r *regionCache) pop() (cacheEntry, bool) {
	n := len(r.entries)
	if n == 0 {
		return cacheEntry{}, false
	}
	e := r.entries[n-1]
	r.entries[n-1] = cacheEntry{}
	r.entries = r.entries[:n-1]
	r.allocations++
	return e, true
}

// drain removes up to n of the least recently pushed entries
func (r *regionCache) drain(n int) []cacheEntry {
	n = min(n, len(r.entries))
	if n <= 0 {
		return nil
	}
	drained := make([]cacheEntry, n)
	copy(drained, r.entries[:n])
	rest := copy(r.entries, r.entries[n:])
	clear(r.entries[rest:])
	r.entries = r.entries[:rest]
	return drained
}

func newThreadCache(alloc *PooledAllocator, a *arena, o *options) *ThreadCache {
	tc := &ThreadCache{
		allocator:    alloc,
		arena:        a,
		trimInterval: o.cacheTrimInterval,
	}
	tc.recycler = newRecycler(o.recyclerCapacity, newPooledByteBuf)
	if a == nil {
		return tc
	}

	tc.tinyCaches = newRegionCaches(sizeClassTiny, numTinySubpagePools, o.tinyCacheSize)
	tc.smallCaches = newRegionCaches(sizeClassSmall, len(a.smallSubpagePools), o.smallCacheSize)

	tc.maxCachedBufferCapacity = min(o.maxCachedBufferCapacity, a.chunkSize)
	if tc.maxCachedBufferCapacity >= a.pageSize {
		numNormal := log2(tc.maxCachedBufferCapacity/a.pageSize) + 1
		tc.normalCaches = newRegionCaches(sizeClassNormal, numNormal, o.normalCacheSize)
	}

	a.numThreadCaches.Add(1)
	return tc
}

func (tc *ThreadCache) Allocate(capacity int) (IByteBuf, error) {
	if tc.closed {
		return nil, ErrThreadCacheClosed
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity: %d (expected: >= 0)", ErrIndexOutOfBounds, capacity)
	}
	if capacity == 0 {
		return Empty, nil
	}
	if tc.arena == nil {
		return tc.allocator.allocateUnpooled(capacity)
	}

	buf, err := tc.arena.allocate(tc, capacity)
	if err != nil {
		return nil, err
	}

	if tc.trimInterval > 0 {
		tc.allocations++
		if tc.allocations >= tc.trimInterval {
			tc.allocations = 0
			if err := tc.trim(); err != nil {
				zap.L().Warn("thread cache trim failed", zap.Int("arena", tc.arena.id), zap.Error(err))
			}
		}
	}
	return buf, nil
}

// Release drops a reference of buf. On the last reference, a slot of the bound
// arena is kept by the cache for a later Allocate and the wrapper is reused.
func (tc *ThreadCache) Release(buf IByteBuf) (bool, error) {
	if v, ok := buf.(*pooledView); ok && !tc.closed {
		return v.buf.releaseTo(v.gen, tc)
	}
	return buf.Release()
}

// Close gives every cached slot back to the arena, the cache can't allocate afterwards
func (tc *ThreadCache) Close() error {
	if tc.closed {
		return nil
	}
	tc.closed = true
	if tc.arena == nil {
		return nil
	}

	err := tc.flush()
	tc.arena.numThreadCaches.Add(-1)
	return err
}

func (tc *ThreadCache) newPooledByteBuf() *pooledByteBuf {
	return tc.recycler.get()
}

func (tc *ThreadCache) cacheFor(class sizeClass, normCapacity int) *regionCache {
	var (
		caches []*regionCache
		idx    int
	)
	switch class {
	case sizeClassTiny:
		caches, idx = tc.tinyCaches, tinyIdx(normCapacity)
	case sizeClassSmall:
		caches, idx = tc.smallCaches, smallIdx(normCapacity)
	default:
		if normCapacity > tc.maxCachedBufferCapacity {
			return nil
		}
		caches, idx = tc.normalCaches, log2(normCapacity>>tc.arena.pageShifts)
	}

	if idx < 0 || idx >= len(caches) {
		return nil
	}
	return caches[idx]
}

// allocate serves buf from a cached slot, reports false on a miss
func (tc *ThreadCache) allocate(buf *pooledByteBuf, class sizeClass, reqCapacity, normCapacity int) bool {
	cache := tc.cacheFor(class, normCapacity)
	if cache == nil {
		return false
	}
	e, ok := cache.pop()
	if !ok {
		return false
	}
	e.chunk.initBuf(buf, e.handle, reqCapacity)
	return true
}

// add keeps a freed slot, reports false when the slot has to go back to the arena
func (tc *ThreadCache) add(a *arena, c *chunk, h handle, class sizeClass, normCapacity int) bool {
	if tc.closed || a != tc.arena {
		return false
	}
	cache := tc.cacheFor(class, normCapacity)
	if cache == nil {
		return false
	}
	return cache.push(cacheEntry{chunk: c, handle: h})
}

// trim gives back the slots that were not reused since the previous trim
func (tc *ThreadCache) trim() error {
	var errs []error
	freed := 0
	for _, caches := range [][]*regionCache{tc.tinyCaches, tc.smallCaches, tc.normalCaches} {
		for _, cache := range caches {
			unused := len(cache.entries) - cache.allocations
			cache.allocations = 0
			if unused <= 0 {
				continue
			}
			entries := cache.drain(unused)
			freed += len(entries)
			if err := tc.arena.freeEntries(cache.class, entries); err != nil {
				errs = append(errs, err)
			}
		}
	}

	zap.L().Debug("thread cache trimmed", zap.Int("arena", tc.arena.id), zap.Int("freed", freed))
	return errors.Join(errs...)
}

func (tc *ThreadCache) flush() error {
	var errs []error
	for _, caches := range [][]*regionCache{tc.tinyCaches, tc.smallCaches, tc.normalCaches} {
		for _, cache := range caches {
			entries := cache.drain(len(cache.entries))
			cache.allocations = 0
			if len(entries) == 0 {
				continue
			}
			if err := tc.arena.freeEntries(cache.class, entries); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// cachedSlots number of slots currently held, for stats and tests
func (tc *ThreadCache) cachedSlots() int {
	total := 0
	for _, caches := range [][]*regionCache{tc.tinyCaches, tc.smallCaches, tc.normalCaches} {
		for _, cache := range caches {
			total += len(cache.entries)
		}
	}
	return total
}

var _ IAllocator = (*ThreadCache)(nil)
