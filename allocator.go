package go_pooled_bytebuf

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

// PooledAllocator hands out buffers carved from chunks owned by a fixed set of
// arenas. Allocate picks an arena round-robin on every call; goroutines that
// allocate a lot should rather go through their own ThreadCache.
type PooledAllocator struct {
	opts       options
	pageShifts int
	chunkSize  int
	source     memory.ISource

	arenas []*arena

	nextArenaIdx       atomic.Uint64
	nextCacheArenaIdx  atomic.Uint64
	chunkIDs           atomic.Uint64
	unpooledAllocs     atomic.Int64
	unpooledDeallocs   atomic.Int64
	unpooledActiveSize atomic.Int64
}

func NewAllocator(opts ...AllocatorOpt) (*PooledAllocator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	pageShifts, chunkSize, err := o.validate()
	if err != nil {
		return nil, err
	}
	if o.source == nil {
		o.source = memory.NewSource()
	}

	p := &PooledAllocator{
		opts:       o,
		pageShifts: pageShifts,
		chunkSize:  chunkSize,
		source:     o.source,
		arenas:     make([]*arena, o.arenaNum),
	}
	for i := range p.arenas {
		p.arenas[i] = newArena(p, i, o.source, o.pageSize, pageShifts, o.maxOrder, chunkSize)
	}

	zap.L().Debug("pooled allocator created",
		zap.Int("arenas", o.arenaNum),
		zap.Int("pageSize", o.pageSize),
		zap.Int("maxOrder", o.maxOrder),
		zap.Int("chunkSize", chunkSize),
	)
	return p, nil
}

// Allocate returns a buffer of exactly capacity bytes. A zero capacity yields
// the shared Empty buffer.
func (p *PooledAllocator) Allocate(capacity int) (IByteBuf, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity: %d (expected: >= 0)", ErrIndexOutOfBounds, capacity)
	}
	if capacity == 0 {
		return Empty, nil
	}
	if len(p.arenas) == 0 {
		return p.allocateUnpooled(capacity)
	}

	idx := p.nextArenaIdx.Add(1) - 1
	return p.arenas[idx%uint64(len(p.arenas))].allocate(nil, capacity)
}

// NewThreadCache binds a new cache to the next arena, round-robin
func (p *PooledAllocator) NewThreadCache() *ThreadCache {
	if len(p.arenas) == 0 {
		return newThreadCache(p, nil, &p.opts)
	}

	idx := p.nextCacheArenaIdx.Add(1) - 1
	return newThreadCache(p, p.arenas[idx%uint64(len(p.arenas))], &p.opts)
}

func (p *PooledAllocator) allocateUnpooled(capacity int) (IByteBuf, error) {
	buf, err := newUnpooledByteBuf(p.source, capacity, p.freeUnpooled)
	if err != nil {
		return nil, err
	}
	p.unpooledAllocs.Add(1)
	p.unpooledActiveSize.Add(int64(capacity))
	return buf, nil
}

func (p *PooledAllocator) freeUnpooled(capacity int) {
	p.unpooledDeallocs.Add(1)
	p.unpooledActiveSize.Add(-int64(capacity))
}

func (p *PooledAllocator) nextChunkID() uint64 {
	return p.chunkIDs.Add(1)
}

func (p *PooledAllocator) ChunkSize() int {
	return p.chunkSize
}

func (p *PooledAllocator) PageSize() int {
	return p.opts.pageSize
}

func (p *PooledAllocator) NumArenas() int {
	return len(p.arenas)
}

func (p *PooledAllocator) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d arena(s):\n", len(p.arenas))
	for _, a := range p.arenas {
		sb.WriteString(a.String())
	}
	return sb.String()
}

var (
	_ IAllocator  = (*PooledAllocator)(nil)
	_ StatsSource = (*PooledAllocator)(nil)
)
