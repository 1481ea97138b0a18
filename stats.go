package go_pooled_bytebuf

// Stats a point in time snapshot of the allocator counters
type Stats struct {
	ChunkSize int
	PageSize  int

	Arenas []ArenaStats

	UnpooledAllocations   int64
	UnpooledDeallocations int64
	UnpooledActiveBytes   int64

	// SourceInUse bytes currently mapped from the memory source
	SourceInUse int64
}

type ArenaStats struct {
	ID           int
	ThreadCaches int64

	ChunkLists      []ChunkListStats
	ChunksCreated   int64
	ChunksDestroyed int64
	// ChunkAllocationFails number of times the memory source refused a new chunk
	ChunkAllocationFails int64
	// FreeBytes free space summed over every live chunk
	FreeBytes int64

	AllocationsTiny     int64
	AllocationsSmall    int64
	AllocationsNormal   int64
	AllocationsHuge     int64
	DeallocationsTiny   int64
	DeallocationsSmall  int64
	DeallocationsNormal int64
	DeallocationsHuge   int64
	ActiveBytesHuge     int64
}

type ChunkListStats struct {
	Name     string
	MinUsage int
	MaxUsage int
	Chunks   int
}

func (a ArenaStats) NumChunks() int {
	total := 0
	for _, l := range a.ChunkLists {
		total += l.Chunks
	}
	return total
}

func (a ArenaStats) NumAllocations() int64 {
	return a.AllocationsTiny + a.AllocationsSmall + a.AllocationsNormal + a.AllocationsHuge
}

func (a ArenaStats) NumDeallocations() int64 {
	return a.DeallocationsTiny + a.DeallocationsSmall + a.DeallocationsNormal + a.DeallocationsHuge
}

func (p *PooledAllocator) Stats() Stats {
	s := Stats{
		ChunkSize:             p.chunkSize,
		PageSize:              p.opts.pageSize,
		Arenas:                make([]ArenaStats, 0, len(p.arenas)),
		UnpooledAllocations:   p.unpooledAllocs.Load(),
		UnpooledDeallocations: p.unpooledDeallocs.Load(),
		UnpooledActiveBytes:   p.unpooledActiveSize.Load(),
		SourceInUse:           p.source.InUse(),
	}
	for _, a := range p.arenas {
		s.Arenas = append(s.Arenas, a.stats())
	}
	return s
}

func (a *arena) stats() ArenaStats {
	s := ArenaStats{
		ID:                   a.id,
		ThreadCaches:         a.numThreadCaches.Load(),
		ChunksCreated:        a.chunksCreated.Load(),
		ChunksDestroyed:      a.chunksDestroyed.Load(),
		ChunkAllocationFails: a.chunkAllocationFails.Load(),
		AllocationsTiny:      a.allocationsTiny.Load(),
		AllocationsSmall:     a.allocationsSmall.Load(),
		AllocationsNormal:    a.allocationsNormal.Load(),
		AllocationsHuge:      a.allocationsHuge.Load(),
		DeallocationsTiny:    a.deallocationsTiny.Load(),
		DeallocationsSmall:   a.deallocationsSmall.Load(),
		DeallocationsNormal:  a.deallocationsNormal.Load(),
		DeallocationsHuge:    a.deallocationsHuge.Load(),
		ActiveBytesHuge:      a.activeBytesHuge.Load(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range a.chunkLists() {
		s.ChunkLists = append(s.ChunkLists, ChunkListStats{
			Name:     q.name,
			MinUsage: q.minUsage,
			MaxUsage: q.maxUsage,
			Chunks:   q.size,
		})
		s.FreeBytes += q.freeBytes()
	}
	return s
}
