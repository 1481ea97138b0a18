package go_pooled_bytebuf

import "strings"

// chunkList a doubly linked list of chunks whose usage lies in [minUsage, maxUsage).
// Chunks move to nextList once they fill up past maxUsage, and to prevList once
// they drain below minUsage.
type chunkList struct {
	name     string
	minUsage int
	maxUsage int

	nextList *chunkList
	prevList *chunkList

	head *chunk
	size int
}

func newChunkList(name string, nextList *chunkList, minUsage, maxUsage int) *chunkList {
	return &chunkList{
		name:     name,
		nextList: nextList,
		minUsage: minUsage,
		maxUsage: maxUsage,
	}
}

// allocate tries every chunk of the list, the arena lock must be held
func (l *chunkList) allocate(buf *pooledByteBuf, reqCapacity, normCapacity int) bool {
	for c := l.head; c != nil; c = c.next {
		h, ok := c.allocate(normCapacity)
		if !ok {
			continue
		}

		c.initBuf(buf, h, reqCapacity)
		if c.usage() >= l.maxUsage {
			l.remove(c)
			l.nextList.add(c)
		}
		return true
	}
	return false
}

// free returns false when the chunk became entirely unused. It has then been
// unlinked and the caller is responsible for destroying it.
func (l *chunkList) free(c *chunk, h handle) bool {
	c.free(h)
	if c.isUnused() {
		l.remove(c)
		return false
	}

	if c.usage() < l.minUsage {
		l.remove(c)
		return l.move(c)
	}
	return true
}

func (l *chunkList) move(c *chunk) bool {
	if c.usage() < l.minUsage {
		if l.prevList == nil {
			return false
		}
		return l.prevList.move(c)
	}
	l.add0(c)
	return true
}

func (l *chunkList) add(c *chunk) {
	if c.usage() >= l.maxUsage {
		l.nextList.add(c)
		return
	}
	l.add0(c)
}

func (l *chunkList) add0(c *chunk) {
	c.parent = l
	c.prev = nil
	c.next = l.head
	if l.head != nil {
		l.head.prev = c
	}
	l.head = c
	l.size++
}

func (l *chunkList) remove(c *chunk) {
	if c == l.head {
		l.head = c.next
		if l.head != nil {
			l.head.prev = nil
		}
	} else {
		c.prev.next = c.next
		if c.next != nil {
			c.next.prev = c.prev
		}
	}
	c.parent, c.prev, c.next = nil, nil, nil
	l.size--
}

func (l *chunkList) freeBytes() int64 {
	var total int64
	for c := l.head; c != nil; c = c.next {
		total += int64(c.freeBytes)
	}
	return total
}

func (l *chunkList) String() string {
	if l.head == nil {
		return "none"
	}

	var sb strings.Builder
	for c := l.head; c != nil; c = c.next {
		sb.WriteString(c.String())
		if c.next != nil {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
