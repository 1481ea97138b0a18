package go_pooled_bytebuf

import "runtime"

var (
	B   = 1
	KiB = 1024 * B
	MiB = 1024 * KiB
)

const (
	minPageSize = 4096
	// maxOrderLimit the deepest buddy tree supported, 2^15 nodes per chunk
	maxOrderLimit = 14
	// maxChunkSize keeps pageSize << maxOrder representable as a positive int32
	maxChunkSize = 1 << 30

	// tiny size classes are multiples of 16 bytes below 512 bytes
	tinyQuantumShift    = 4
	smallThreshold      = 512
	numTinySubpagePools = smallThreshold >> tinyQuantumShift
)

var (
	defaultArenaNum = runtime.GOMAXPROCS(0) // 1 arena per cpu core
	defaultPageSize = 8 * KiB
	defaultMaxOrder = 11 // 8192 << 11 = 16 MiB per chunk

	defaultTinyCacheSize           = 512
	defaultSmallCacheSize          = 256
	defaultNormalCacheSize         = 64
	defaultMaxCachedBufferCapacity = 32 * KiB
	defaultCacheTrimInterval       = 8192
	defaultRecyclerCapacity        = 256
)
