package go_pooled_bytebuf

import (
	"fmt"

	"go.uber.org/zap"
)

// chunk manages a region of pageSize << maxOrder bytes with a buddy tree.
//
// memoryMap is a complete binary tree stored in an array, node 1 being the root
// and node id having children 2*id and 2*id+1. depthMap[id] is the depth of id
// in the tree and never changes. memoryMap[id] is the depth of the shallowest
// node below id (id included) that is still entirely free:
//
//	memoryMap[id] == depthMap[id]  => id is free
//	memoryMap[id] >  depthMap[id]  => id is partially allocated, the largest free
//	                                  run below it lives at depth memoryMap[id]
//	memoryMap[id] == maxOrder + 1  => id is fully allocated (unusable)
//
// A run of size s is found by descending from the root into the leftmost child
// whose value is <= the wanted depth.
type chunk struct {
	id     uint64
	arena  *arena
	memory []byte

	memoryMap []byte
	depthMap  []byte
	subpages  []*subpage
	// runs one bit per node, set while the node is handed out as a page run
	runs []uint64

	pageSize            int
	pageShifts          int
	maxOrder            int
	chunkSize           int
	log2ChunkSize       int
	maxSubpageAllocs    int
	subpageOverflowMask int
	unusable            byte

	freeBytes int

	// links within the chunkList the chunk currently lives in
	parent     *chunkList
	prev, next *chunk
}

func newChunk(a *arena, id uint64, memory []byte, pageSize, pageShifts, maxOrder, chunkSize int) *chunk {
	maxSubpageAllocs := 1 << maxOrder
	c := &chunk{
		id:                  id,
		arena:               a,
		memory:              memory[:chunkSize:chunkSize],
		memoryMap:           make([]byte, maxSubpageAllocs<<1),
		depthMap:            make([]byte, maxSubpageAllocs<<1),
		subpages:            make([]*subpage, maxSubpageAllocs),
		runs:                make([]uint64, (maxSubpageAllocs<<1+63)>>6),
		pageSize:            pageSize,
		pageShifts:          pageShifts,
		maxOrder:            maxOrder,
		chunkSize:           chunkSize,
		log2ChunkSize:       log2(chunkSize),
		maxSubpageAllocs:    maxSubpageAllocs,
		subpageOverflowMask: ^(pageSize - 1),
		unusable:            byte(maxOrder + 1),
		freeBytes:           chunkSize,
	}

	memoryMapIdx := 1
	for d := 0; d <= maxOrder; d++ {
		for p := 0; p < 1<<d; p++ {
			c.memoryMap[memoryMapIdx] = byte(d)
			c.depthMap[memoryMapIdx] = byte(d)
			memoryMapIdx++
		}
	}
	return c
}

// usage percentage of the chunk that is handed out, only 100 when nothing is left
func (c *chunk) usage() int {
	if c.freeBytes == 0 {
		return 100
	}

	freePercentage := int(int64(c.freeBytes) * 100 / int64(c.chunkSize))
	if freePercentage == 0 {
		return 99
	}
	return 100 - freePercentage
}

func (c *chunk) isUnused() bool {
	return c.freeBytes == c.chunkSize
}

// allocate reserves normCapacity bytes, the arena lock must be held
func (c *chunk) allocate(normCapacity int) (handle, bool) {
	if normCapacity&c.subpageOverflowMask != 0 {
		return c.allocateRun(normCapacity)
	}
	return c.allocateSubpage(normCapacity)
}

func (c *chunk) allocateRun(normCapacity int) (handle, bool) {
	d := c.maxOrder - (log2(normCapacity) - c.pageShifts)
	id := c.allocateNode(d)
	if id < 0 {
		return handle{}, false
	}
	c.freeBytes -= c.runLength(id)
	c.setRun(id, true)
	return runHandle(c.id, id), true
}

func (c *chunk) allocateSubpage(normCapacity int) (handle, bool) {
	head := c.arena.findSubpagePoolHead(normCapacity)

	// subpages are only ever carved out of leaves
	id := c.allocateNode(c.maxOrder)
	if id < 0 {
		return handle{}, false
	}
	c.freeBytes -= c.pageSize

	subpageIdx := c.subpageIdx(id)
	s := c.subpages[subpageIdx]
	if s == nil {
		s = newSubpage(head, c, id, c.runOffset(id), c.pageSize, normCapacity)
		c.subpages[subpageIdx] = s
	} else {
		s.init(head, normCapacity)
	}

	return subpageHandle(c.id, id, s.allocate()), true
}

// allocateNode finds the leftmost free node at depth d, marks it unusable and
// updates its ancestors. Returns -1 when no such node exists.
func (c *chunk) allocateNode(d int) int {
	id := 1
	initial := -(1 << d) // has the last d bits = 0 and the rest all = 1
	val := c.value(id)
	if val > byte(d) {
		return -1
	}

	// id & initial == 0 while id sits above depth d
	for val < byte(d) || id&initial == 0 {
		id <<= 1
		val = c.value(id)
		if val > byte(d) {
			id ^= 1
			val = c.value(id)
		}
	}

	if val != byte(d) || int(c.depth(id)) != d {
		msg := fmt.Sprintf("chunk %d: buddy tree corrupted, node %d has value %d at depth %d (expected %d)",
			c.id, id, val, c.depth(id), d)
		zap.L().Error(msg)
		panic(msg)
	}

	c.setValue(id, c.unusable)
	c.updateParentsAlloc(id)
	return id
}

func (c *chunk) updateParentsAlloc(id int) {
	for id > 1 {
		parentID := id >> 1
		c.setValue(parentID, min(c.value(id), c.value(id^1)))
		id = parentID
	}
}

func (c *chunk) updateParentsFree(id int) {
	logChild := c.depth(id) + 1
	for id > 1 {
		parentID := id >> 1
		val1, val2 := c.value(id), c.value(id^1)
		logChild--

		if val1 == logChild && val2 == logChild {
			// both buddies are free, merge them back
			c.setValue(parentID, logChild-1)
		} else {
			c.setValue(parentID, min(val1, val2))
		}
		id = parentID
	}
}

// free gives h back to the tree, the arena lock must be held
func (c *chunk) free(h handle) {
	c.validate(h)

	memoryMapIdx := int(h.memoryMapIdx)
	if h.isSubpage() {
		s := c.subpages[c.subpageIdx(memoryMapIdx)]
		if s.free(int(h.bitmapIdx)) {
			return
		}
	} else {
		c.setRun(memoryMapIdx, false)
	}

	c.freeBytes += c.runLength(memoryMapIdx)
	c.setValue(memoryMapIdx, c.depth(memoryMapIdx))
	c.updateParentsFree(memoryMapIdx)
}

// validate panics when h was not handed out by this chunk, or is not allocated anymore
func (c *chunk) validate(h handle) {
	memoryMapIdx := int(h.memoryMapIdx)

	var reason string
	switch {
	case h.chunkID != c.id:
		reason = "belongs to another chunk"
	case memoryMapIdx < 1 || memoryMapIdx >= len(c.memoryMap):
		reason = "node out of range"
	case c.value(memoryMapIdx) != c.unusable:
		reason = "node is not allocated"
	case !h.isSubpage() && !c.isRun(memoryMapIdx):
		reason = "node is not allocated as a run"
	case h.isSubpage():
		if int(c.depth(memoryMapIdx)) != c.maxOrder {
			reason = "subpage handle on a non-leaf node"
			break
		}
		s := c.subpages[c.subpageIdx(memoryMapIdx)]
		if s == nil || !s.doNotDestroy {
			reason = "subpage is not in use"
		} else if !s.isAllocated(int(h.bitmapIdx)) {
			reason = "subpage element is not allocated"
		}
	}

	if reason != "" {
		msg := fmt.Sprintf("chunk %d: invalid free of %s: %s", c.id, h, reason)
		zap.L().Error(msg)
		panic(msg)
	}
}

// initBuf binds buf to the slot described by h
func (c *chunk) initBuf(buf *pooledByteBuf, h handle, reqCapacity int) {
	memoryMapIdx := int(h.memoryMapIdx)
	if !h.isSubpage() {
		buf.init(c, h, c.runOffset(memoryMapIdx), reqCapacity, c.runLength(memoryMapIdx))
		return
	}

	s := c.subpages[c.subpageIdx(memoryMapIdx)]
	offset := c.runOffset(memoryMapIdx) + int(h.bitmapIdx)*s.elemSize
	buf.init(c, h, offset, reqCapacity, s.elemSize)
}

func (c *chunk) isRun(id int) bool {
	return c.runs[id>>6]&(1<<(id&63)) != 0
}

func (c *chunk) setRun(id int, allocated bool) {
	if allocated {
		c.runs[id>>6] |= 1 << (id & 63)
	} else {
		c.runs[id>>6] &^= 1 << (id & 63)
	}
}

func (c *chunk) value(id int) byte {
	return c.memoryMap[id]
}

func (c *chunk) setValue(id int, val byte) {
	c.memoryMap[id] = val
}

func (c *chunk) depth(id int) byte {
	return c.depthMap[id]
}

func (c *chunk) runLength(id int) int {
	return 1 << (c.log2ChunkSize - int(c.depth(id)))
}

func (c *chunk) runOffset(id int) int {
	// offset of id among the nodes of its depth, times the run length
	shift := id ^ (1 << c.depth(id))
	return shift * c.runLength(id)
}

func (c *chunk) subpageIdx(memoryMapIdx int) int {
	// remove the highest set bit, the leaf depth marker
	return memoryMapIdx ^ c.maxSubpageAllocs
}

func (c *chunk) String() string {
	return fmt.Sprintf("Chunk(%d: %d%%, %d/%d)", c.id, c.usage(), c.chunkSize-c.freeBytes, c.chunkSize)
}
