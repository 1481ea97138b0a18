package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
)

// Collector exports allocator statistics. Every scrape takes a fresh snapshot,
// so nothing has to be updated on the allocation path.
type Collector struct {
	source go_pooled_bytebuf.StatsSource

	chunks          *prometheus.Desc
	chunksCreated   *prometheus.Desc
	chunksDestroyed *prometheus.Desc
	chunkFailures   *prometheus.Desc
	freeBytes       *prometheus.Desc
	allocations     *prometheus.Desc
	deallocations   *prometheus.Desc
	activeHugeBytes *prometheus.Desc
	threadCaches    *prometheus.Desc

	unpooledAllocations   *prometheus.Desc
	unpooledDeallocations *prometheus.Desc
	unpooledActiveBytes   *prometheus.Desc
	sourceInUse           *prometheus.Desc
	chunkSize             *prometheus.Desc
}

func NewCollector(source go_pooled_bytebuf.StatsSource, namespace string) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		source: source,

		chunks:          desc("arena_chunks", "Number of live chunks per arena and usage list", "arena", "list"),
		chunksCreated:   desc("arena_chunks_created_total", "Total number of chunks mapped by an arena", "arena"),
		chunksDestroyed: desc("arena_chunks_destroyed_total", "Total number of chunks released by an arena", "arena"),
		chunkFailures:   desc("arena_chunk_allocation_failures_total", "Total number of chunks the memory source refused", "arena"),
		freeBytes:       desc("arena_free_bytes", "Free bytes summed over the live chunks of an arena", "arena"),
		allocations:     desc("arena_allocations_total", "Total number of allocations served by an arena", "arena", "size_class"),
		deallocations:   desc("arena_deallocations_total", "Total number of deallocations handled by an arena", "arena", "size_class"),
		activeHugeBytes: desc("arena_active_huge_bytes", "Bytes held by live buffers larger than a chunk", "arena"),
		threadCaches:    desc("arena_thread_caches", "Number of open thread caches bound to an arena", "arena"),

		unpooledAllocations:   desc("unpooled_allocations_total", "Total number of buffers allocated without any arena"),
		unpooledDeallocations: desc("unpooled_deallocations_total", "Total number of buffers released without any arena"),
		unpooledActiveBytes:   desc("unpooled_active_bytes", "Bytes held by live buffers allocated without any arena"),
		sourceInUse:           desc("source_in_use_bytes", "Bytes currently obtained from the memory source"),
		chunkSize:             desc("chunk_size_bytes", "Configured size of a chunk"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.chunks, c.chunksCreated, c.chunksDestroyed, c.chunkFailures, c.freeBytes,
		c.allocations, c.deallocations, c.activeHugeBytes, c.threadCaches,
		c.unpooledAllocations, c.unpooledDeallocations, c.unpooledActiveBytes,
		c.sourceInUse, c.chunkSize,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	for _, a := range stats.Arenas {
		arena := strconv.Itoa(a.ID)

		for _, l := range a.ChunkLists {
			ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(l.Chunks), arena, l.Name)
		}
		ch <- prometheus.MustNewConstMetric(c.chunksCreated, prometheus.CounterValue, float64(a.ChunksCreated), arena)
		ch <- prometheus.MustNewConstMetric(c.chunksDestroyed, prometheus.CounterValue, float64(a.ChunksDestroyed), arena)
		ch <- prometheus.MustNewConstMetric(c.chunkFailures, prometheus.CounterValue, float64(a.ChunkAllocationFails), arena)
		ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(a.FreeBytes), arena)
		ch <- prometheus.MustNewConstMetric(c.activeHugeBytes, prometheus.GaugeValue, float64(a.ActiveBytesHuge), arena)
		ch <- prometheus.MustNewConstMetric(c.threadCaches, prometheus.GaugeValue, float64(a.ThreadCaches), arena)

		for class, counts := range map[string][2]int64{
			"tiny":   {a.AllocationsTiny, a.DeallocationsTiny},
			"small":  {a.AllocationsSmall, a.DeallocationsSmall},
			"normal": {a.AllocationsNormal, a.DeallocationsNormal},
			"huge":   {a.AllocationsHuge, a.DeallocationsHuge},
		} {
			ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(counts[0]), arena, class)
			ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(counts[1]), arena, class)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.unpooledAllocations, prometheus.CounterValue, float64(stats.UnpooledAllocations))
	ch <- prometheus.MustNewConstMetric(c.unpooledDeallocations, prometheus.CounterValue, float64(stats.UnpooledDeallocations))
	ch <- prometheus.MustNewConstMetric(c.unpooledActiveBytes, prometheus.GaugeValue, float64(stats.UnpooledActiveBytes))
	ch <- prometheus.MustNewConstMetric(c.sourceInUse, prometheus.GaugeValue, float64(stats.SourceInUse))
	ch <- prometheus.MustNewConstMetric(c.chunkSize, prometheus.GaugeValue, float64(stats.ChunkSize))
}

var _ prometheus.Collector = (*Collector)(nil)
