package go_pooled_bytebuf

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

type sizeClass byte

const (
	sizeClassTiny sizeClass = iota
	sizeClassSmall
	sizeClassNormal
)

func (s sizeClass) String() string {
	switch s {
	case sizeClassTiny:
		return "tiny"
	case sizeClassSmall:
		return "small"
	default:
		return "normal"
	}
}

// arena owns a set of chunks and the subpage pools carved out of them. Every
// mutation of its chunks happens under mu.
type arena struct {
	id     int
	parent *PooledAllocator
	source memory.ISource

	pageSize            int
	pageShifts          int
	maxOrder            int
	chunkSize           int
	subpageOverflowMask int

	mu sync.Mutex

	tinySubpagePools  []*subpage
	smallSubpagePools []*subpage

	qInit, q000, q025, q050, q075, q100 *chunkList
	// allocation order, fuller chunks first
	allocationLists []*chunkList

	// stats
	numThreadCaches      atomic.Int64
	allocationsTiny      atomic.Int64
	allocationsSmall     atomic.Int64
	allocationsNormal    atomic.Int64
	allocationsHuge      atomic.Int64
	deallocationsTiny    atomic.Int64
	deallocationsSmall   atomic.Int64
	deallocationsNormal  atomic.Int64
	deallocationsHuge    atomic.Int64
	activeBytesHuge      atomic.Int64
	chunksCreated        atomic.Int64
	chunksDestroyed      atomic.Int64
	chunkAllocationFails atomic.Int64
}

func newArena(parent *PooledAllocator, id int, source memory.ISource, pageSize, pageShifts, maxOrder, chunkSize int) *arena {
	a := &arena{
		id:                  id,
		parent:              parent,
		source:              source,
		pageSize:            pageSize,
		pageShifts:          pageShifts,
		maxOrder:            maxOrder,
		chunkSize:           chunkSize,
		subpageOverflowMask: ^(pageSize - 1),
		tinySubpagePools:    make([]*subpage, numTinySubpagePools),
		smallSubpagePools:   make([]*subpage, pageShifts-log2(smallThreshold)),
	}
	for i := range a.tinySubpagePools {
		a.tinySubpagePools[i] = newSubpageHead(pageSize)
	}
	for i := range a.smallSubpagePools {
		a.smallSubpagePools[i] = newSubpageHead(pageSize)
	}

	a.q100 = newChunkList("q100", nil, 100, math.MaxInt)
	a.q075 = newChunkList("q075", a.q100, 75, 100)
	a.q050 = newChunkList("q050", a.q100, 50, 100)
	a.q025 = newChunkList("q025", a.q050, 25, 75)
	a.q000 = newChunkList("q000", a.q025, 1, 50)
	a.qInit = newChunkList("qInit", a.q000, math.MinInt, 25)

	a.q100.prevList = a.q075
	a.q075.prevList = a.q050
	a.q050.prevList = a.q025
	a.q025.prevList = a.q000
	a.q000.prevList = nil
	a.qInit.prevList = a.qInit

	a.allocationLists = []*chunkList{a.q075, a.q050, a.q025, a.q000, a.qInit}
	return a
}

// normalizeCapacity rounds reqCapacity up to the size of the slot serving it
func (a *arena) normalizeCapacity(reqCapacity int) int {
	if reqCapacity > a.chunkSize {
		return reqCapacity
	}
	if reqCapacity >= smallThreshold {
		return nextPowerOfTwo(reqCapacity)
	}
	// tiny, multiple of 16
	quantum := 1 << tinyQuantumShift
	return (reqCapacity + quantum - 1) &^ (quantum - 1)
}

func (a *arena) isTinyOrSmall(normCapacity int) bool {
	return normCapacity&a.subpageOverflowMask == 0
}

func (a *arena) sizeClassOf(normCapacity int) sizeClass {
	switch {
	case isTiny(normCapacity):
		return sizeClassTiny
	case a.isTinyOrSmall(normCapacity):
		return sizeClassSmall
	default:
		return sizeClassNormal
	}
}

func (a *arena) findSubpagePoolHead(normCapacity int) *subpage {
	if isTiny(normCapacity) {
		return a.tinySubpagePools[tinyIdx(normCapacity)]
	}
	return a.smallSubpagePools[smallIdx(normCapacity)]
}

// allocate serves reqCapacity > 0 bytes. cache, when given, is asked first and
// provides the buffer wrapper.
func (a *arena) allocate(cache *ThreadCache, reqCapacity int) (IByteBuf, error) {
	normCapacity := a.normalizeCapacity(reqCapacity)
	if normCapacity > a.chunkSize {
		return a.allocateHuge(reqCapacity)
	}

	var buf *pooledByteBuf
	if cache != nil {
		buf = cache.newPooledByteBuf()
	} else {
		buf = newPooledByteBuf(nil)
	}

	class := a.sizeClassOf(normCapacity)
	if cache != nil && cache.allocate(buf, class, reqCapacity, normCapacity) {
		return buf.view(), nil
	}

	a.mu.Lock()
	if class != sizeClassNormal {
		head := a.findSubpagePoolHead(normCapacity)
		if s := head.next; s != head {
			bitmapIdx := s.allocate()
			s.chunk.initBuf(buf, subpageHandle(s.chunk.id, s.memoryMapIdx, bitmapIdx), reqCapacity)
			a.mu.Unlock()
			a.incAllocations(class)
			return buf.view(), nil
		}
	}

	err := a.allocateNormal(buf, reqCapacity, normCapacity)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.incAllocations(class)
	return buf.view(), nil
}

// allocateNormal the arena lock must be held
func (a *arena) allocateNormal(buf *pooledByteBuf, reqCapacity, normCapacity int) error {
	for _, q := range a.allocationLists {
		if q.allocate(buf, reqCapacity, normCapacity) {
			return nil
		}
	}

	c, err := a.newChunk()
	if err != nil {
		return err
	}
	h, ok := c.allocate(normCapacity)
	if !ok {
		msg := fmt.Sprintf("arena %d: fresh chunk %d cannot serve %d bytes", a.id, c.id, normCapacity)
		zap.L().Error(msg)
		panic(msg)
	}
	c.initBuf(buf, h, reqCapacity)
	a.qInit.add(c)
	return nil
}

func (a *arena) newChunk() (*chunk, error) {
	region, err := a.source.Allocate(a.chunkSize)
	if err != nil {
		a.chunkAllocationFails.Add(1)
		return nil, fmt.Errorf("%w: chunk of %d bytes: %w", ErrResourceExhaustion, a.chunkSize, err)
	}

	id := a.parent.nextChunkID()
	a.chunksCreated.Add(1)
	zap.L().Debug("new chunk", zap.Int("arena", a.id), zap.Uint64("chunk", id), zap.Int("size", a.chunkSize))
	return newChunk(a, id, region, a.pageSize, a.pageShifts, a.maxOrder, a.chunkSize), nil
}

func (a *arena) destroyChunk(c *chunk) error {
	a.chunksDestroyed.Add(1)
	zap.L().Debug("destroy chunk", zap.Int("arena", a.id), zap.Uint64("chunk", c.id))

	region := c.memory
	c.memory = nil
	if err := a.source.Release(region); err != nil {
		zap.L().Warn("failed to release chunk region", zap.Uint64("chunk", c.id), zap.Error(err))
		return err
	}
	return nil
}

func (a *arena) allocateHuge(reqCapacity int) (IByteBuf, error) {
	buf, err := newUnpooledByteBuf(a.source, reqCapacity, a.freeHuge)
	if err != nil {
		return nil, err
	}
	a.activeBytesHuge.Add(int64(reqCapacity))
	a.allocationsHuge.Add(1)
	return buf, nil
}

func (a *arena) freeHuge(capacity int) {
	a.activeBytesHuge.Add(-int64(capacity))
	a.deallocationsHuge.Add(1)
}

// free hands the slot to cache when possible, otherwise back to its chunk
func (a *arena) free(c *chunk, h handle, normCapacity int, cache *ThreadCache) error {
	class := a.sizeClassOf(normCapacity)
	if cache != nil && cache.add(a, c, h, class, normCapacity) {
		return nil
	}

	a.mu.Lock()
	alive := c.parent.free(c, h)
	a.mu.Unlock()
	a.incDeallocations(class)

	if !alive {
		return a.destroyChunk(c)
	}
	return nil
}

// freeEntries releases a batch of cached slots under a single lock
func (a *arena) freeEntries(class sizeClass, entries []cacheEntry) error {
	var unused []*chunk

	a.mu.Lock()
	for _, e := range entries {
		if !e.chunk.parent.free(e.chunk, e.handle) {
			unused = append(unused, e.chunk)
		}
	}
	a.mu.Unlock()
	a.deallocations(class).Add(int64(len(entries)))

	var errs []error
	for _, c := range unused {
		if err := a.destroyChunk(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("arena %d: %d chunk(s) could not be released: %w", a.id, len(errs), errs[0])
	}
	return nil
}

func (a *arena) allocations(class sizeClass) *atomic.Int64 {
	switch class {
	case sizeClassTiny:
		return &a.allocationsTiny
	case sizeClassSmall:
		return &a.allocationsSmall
	default:
		return &a.allocationsNormal
	}
}

func (a *arena) deallocations(class sizeClass) *atomic.Int64 {
	switch class {
	case sizeClassTiny:
		return &a.deallocationsTiny
	case sizeClassSmall:
		return &a.deallocationsSmall
	default:
		return &a.deallocationsNormal
	}
}

func (a *arena) incAllocations(class sizeClass) {
	a.allocations(class).Add(1)
}

func (a *arena) incDeallocations(class sizeClass) {
	a.deallocations(class).Add(1)
}

func (a *arena) chunkLists() []*chunkList {
	return []*chunkList{a.qInit, a.q000, a.q025, a.q050, a.q075, a.q100}
}

func (a *arena) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Arena %d:\n", a.id)
	for _, q := range a.chunkLists() {
		fmt.Fprintf(&sb, "%s:\n%s\n", q.name, q)
	}
	writePools := func(name string, heads []*subpage) {
		fmt.Fprintf(&sb, "%s subpages:\n", name)
		for i, head := range heads {
			if head.next == head {
				continue
			}
			fmt.Fprintf(&sb, "%d:", i)
			for s := head.next; s != head; s = s.next {
				sb.WriteString(s.String())
			}
			sb.WriteString("\n")
		}
	}
	writePools("tiny", a.tinySubpagePools)
	writePools("small", a.smallSubpagePools)
	return sb.String()
}
