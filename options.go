package go_pooled_bytebuf

import (
	"fmt"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

type AllocatorOpt func(o *options)

type options struct {
	// arenaNum number of arenas. 0 disables pooling, every buffer is then backed by
	// its own region from the memory source.
	arenaNum int

	// pageSize the smallest unit handed out by the buddy tree, must be a power of 2
	pageSize int

	// maxOrder depth of the buddy tree, a chunk is pageSize << maxOrder bytes
	maxOrder int

	// thread cache bounds, in number of cached handles per size class
	tinyCacheSize   int
	smallCacheSize  int
	normalCacheSize int

	// maxCachedBufferCapacity largest normal (page run) buffer kept in a thread cache
	maxCachedBufferCapacity int

	// cacheTrimInterval number of allocations after which a thread cache gives back
	// the handles it did not reuse since the previous trim
	cacheTrimInterval int

	// recyclerCapacity max number of buffer wrappers parked per thread cache
	recyclerCapacity int

	source memory.ISource
}

func defaultOptions() options {
	return options{
		arenaNum:                defaultArenaNum,
		pageSize:                defaultPageSize,
		maxOrder:                defaultMaxOrder,
		tinyCacheSize:           defaultTinyCacheSize,
		smallCacheSize:          defaultSmallCacheSize,
		normalCacheSize:         defaultNormalCacheSize,
		maxCachedBufferCapacity: defaultMaxCachedBufferCapacity,
		cacheTrimInterval:       defaultCacheTrimInterval,
		recyclerCapacity:        defaultRecyclerCapacity,
	}
}

func WithArenaNum(arenaNum int) AllocatorOpt {
	return func(o *options) {
		o.arenaNum = arenaNum
	}
}

func WithPageSize(pageSize int) AllocatorOpt {
	return func(o *options) {
		o.pageSize = pageSize
	}
}

func WithMaxOrder(maxOrder int) AllocatorOpt {
	return func(o *options) {
		o.maxOrder = maxOrder
	}
}

func WithTinyCacheSize(size int) AllocatorOpt {
	return func(o *options) {
		o.tinyCacheSize = size
	}
}

func WithSmallCacheSize(size int) AllocatorOpt {
	return func(o *options) {
		o.smallCacheSize = size
	}
}

func WithNormalCacheSize(size int) AllocatorOpt {
	return func(o *options) {
		o.normalCacheSize = size
	}
}

func WithMaxCachedBufferCapacity(capacity int) AllocatorOpt {
	return func(o *options) {
		o.maxCachedBufferCapacity = capacity
	}
}

func WithCacheTrimInterval(interval int) AllocatorOpt {
	return func(o *options) {
		o.cacheTrimInterval = interval
	}
}

func WithRecyclerCapacity(capacity int) AllocatorOpt {
	return func(o *options) {
		o.recyclerCapacity = capacity
	}
}

// WithMemorySource overrides where chunks and unpooled buffers get their memory from.
// Defaults to anonymous mmap on unix systems.
func WithMemorySource(source memory.ISource) AllocatorOpt {
	return func(o *options) {
		o.source = source
	}
}

// validate checks the options and returns pageShifts and chunkSize derived from them
func (o *options) validate() (pageShifts, chunkSize int, err error) {
	if o.arenaNum < 0 {
		return 0, 0, fmt.Errorf("%w: arenaNum: %d (expected: >= 0)", ErrInvalidConfiguration, o.arenaNum)
	}

	if pageShifts, err = validatePageSize(o.pageSize); err != nil {
		return 0, 0, err
	}

	if chunkSize, err = validateChunkSize(o.pageSize, o.maxOrder); err != nil {
		return 0, 0, err
	}

	for name, v := range map[string]int{
		"tinyCacheSize":           o.tinyCacheSize,
		"smallCacheSize":          o.smallCacheSize,
		"normalCacheSize":         o.normalCacheSize,
		"maxCachedBufferCapacity": o.maxCachedBufferCapacity,
		"cacheTrimInterval":       o.cacheTrimInterval,
		"recyclerCapacity":        o.recyclerCapacity,
	} {
		if v < 0 {
			return 0, 0, fmt.Errorf("%w: %s: %d (expected: >= 0)", ErrInvalidConfiguration, name, v)
		}
	}

	return pageShifts, chunkSize, nil
}

func validatePageSize(pageSize int) (int, error) {
	if pageSize < minPageSize {
		return 0, fmt.Errorf("%w: pageSize: %d (expected: %d+)", ErrInvalidConfiguration, pageSize, minPageSize)
	}
	if pageSize&(pageSize-1) != 0 {
		return 0, fmt.Errorf("%w: pageSize: %d (expected: power of 2)", ErrInvalidConfiguration, pageSize)
	}
	return log2(pageSize), nil
}

func validateChunkSize(pageSize, maxOrder int) (int, error) {
	if maxOrder < 0 || maxOrder > maxOrderLimit {
		return 0, fmt.Errorf("%w: maxOrder: %d (expected: 0-%d)", ErrInvalidConfiguration, maxOrder, maxOrderLimit)
	}

	// ensure the resulting chunkSize does not overflow
	chunkSize := pageSize
	for i := maxOrder; i > 0; i-- {
		if chunkSize > maxChunkSize/2 {
			return 0, fmt.Errorf("%w: pageSize (%d) << maxOrder (%d) must not exceed %d",
				ErrInvalidConfiguration, pageSize, maxOrder, maxChunkSize)
		}
		chunkSize <<= 1
	}
	if chunkSize > maxChunkSize {
		return 0, fmt.Errorf("%w: pageSize (%d) must not exceed %d", ErrInvalidConfiguration, pageSize, maxChunkSize)
	}
	return chunkSize, nil
}
