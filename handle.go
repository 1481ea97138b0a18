package go_pooled_bytebuf

import "fmt"

// handle locates an allocation inside a chunk. bitmapIdx < 0 means the whole
// run at memoryMapIdx, otherwise it is the element index inside the subpage
// living on that leaf.
type handle struct {
	chunkID      uint64
	memoryMapIdx int32
	bitmapIdx    int32
}

func runHandle(chunkID uint64, memoryMapIdx int) handle {
	return handle{chunkID: chunkID, memoryMapIdx: int32(memoryMapIdx), bitmapIdx: -1}
}

func subpageHandle(chunkID uint64, memoryMapIdx, bitmapIdx int) handle {
	return handle{chunkID: chunkID, memoryMapIdx: int32(memoryMapIdx), bitmapIdx: int32(bitmapIdx)}
}

func (h handle) isSubpage() bool {
	return h.bitmapIdx >= 0
}

func (h handle) String() string {
	if h.isSubpage() {
		return fmt.Sprintf("handle(chunk: %d, node: %d, elem: %d)", h.chunkID, h.memoryMapIdx, h.bitmapIdx)
	}
	return fmt.Sprintf("handle(chunk: %d, node: %d)", h.chunkID, h.memoryMapIdx)
}
