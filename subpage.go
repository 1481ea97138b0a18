package go_pooled_bytebuf

import (
	"fmt"
	"math/bits"

	"go.uber.org/zap"
)

// subpage splits one page of a chunk into equally sized elements. Subpages of the
// same element size are linked into a circular list behind a head sentinel owned
// by the arena; a subpage stays in that list as long as it has a free element.
type subpage struct {
	chunk        *chunk
	memoryMapIdx int
	runOffset    int
	pageSize     int

	bitmap       []uint64
	bitmapLength int

	head       *subpage
	prev, next *subpage

	// doNotDestroy false once every element went back and the page was returned to the tree
	doNotDestroy bool
	elemSize     int
	maxNumElems  int
	nextAvail    int
	numAvail     int
}

// newSubpageHead the sentinel of a subpage pool
func newSubpageHead(pageSize int) *subpage {
	s := &subpage{pageSize: pageSize, elemSize: -1}
	s.prev, s.next = s, s
	return s
}

func newSubpage(head *subpage, c *chunk, memoryMapIdx, runOffset, pageSize, elemSize int) *subpage {
	s := &subpage{
		chunk:        c,
		memoryMapIdx: memoryMapIdx,
		runOffset:    runOffset,
		pageSize:     pageSize,
		// enough bits for the smallest tiny element, 16 bytes
		bitmap: make([]uint64, pageSize>>(tinyQuantumShift+6)),
	}
	s.init(head, elemSize)
	return s
}

func (s *subpage) init(head *subpage, elemSize int) {
	s.doNotDestroy = true
	s.elemSize = elemSize
	s.maxNumElems = s.pageSize / elemSize
	s.numAvail = s.maxNumElems
	s.nextAvail = 0
	s.bitmapLength = (s.maxNumElems + 63) >> 6
	clear(s.bitmap[:s.bitmapLength])
	s.addToPool(head)
}

// allocate returns the index of a free element, or -1
func (s *subpage) allocate() int {
	if s.numAvail == 0 || !s.doNotDestroy {
		return -1
	}

	bitmapIdx := s.getNextAvail()
	if bitmapIdx < 0 {
		msg := fmt.Sprintf("subpage of chunk %d node %d claims %d free elements but has none",
			s.chunk.id, s.memoryMapIdx, s.numAvail)
		zap.L().Error(msg)
		panic(msg)
	}

	q, r := bitmapIdx>>6, bitmapIdx&63
	s.bitmap[q] |= 1 << r

	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return bitmapIdx
}

// free returns false once the subpage got entirely unused. It has then left its
// pool, and the caller must give the page back to the buddy tree.
func (s *subpage) free(bitmapIdx int) bool {
	q, r := bitmapIdx>>6, bitmapIdx&63
	s.bitmap[q] ^= 1 << r
	s.nextAvail = bitmapIdx

	s.numAvail++
	if s.numAvail == 1 {
		s.addToPool(s.head)
	}

	if s.numAvail != s.maxNumElems {
		return true
	}

	s.removeFromPool()
	s.doNotDestroy = false
	return false
}

func (s *subpage) isAllocated(bitmapIdx int) bool {
	if bitmapIdx < 0 || bitmapIdx >= s.maxNumElems {
		return false
	}
	return s.bitmap[bitmapIdx>>6]&(1<<(bitmapIdx&63)) != 0
}

func (s *subpage) getNextAvail() int {
	if next := s.nextAvail; next >= 0 {
		s.nextAvail = -1
		return next
	}
	return s.findNextAvail()
}

func (s *subpage) findNextAvail() int {
	for i := 0; i < s.bitmapLength; i++ {
		word := s.bitmap[i]
		if ^word == 0 {
			continue
		}
		idx := i<<6 + bits.TrailingZeros64(^word)
		if idx < s.maxNumElems {
			return idx
		}
		break
	}
	return -1
}

func (s *subpage) addToPool(head *subpage) {
	s.head = head
	s.prev = head
	s.next = head.next
	s.next.prev = s
	head.next = s
}

func (s *subpage) removeFromPool() {
	if s.prev == nil || s.next == nil {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}

func (s *subpage) String() string {
	if !s.doNotDestroy {
		return fmt.Sprintf("(%d: not in use)", s.memoryMapIdx)
	}
	return fmt.Sprintf("(%d: %d/%d, offset: %d, length: %d, elemSize: %d)",
		s.memoryMapIdx, s.maxNumElems-s.numAvail, s.maxNumElems, s.runOffset, s.pageSize, s.elemSize)
}
