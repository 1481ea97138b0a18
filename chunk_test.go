package go_pooled_bytebuf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunk(t *testing.T) (*arena, *chunk) {
	t.Helper()
	p := newTestAllocator(t)
	a := p.arenas[0]
	c, err := a.newChunk()
	require.NoError(t, err)
	return a, c
}

func Test_Chunk_Fresh_Tree(t *testing.T) {
	_, c := newTestChunk(t)

	assert.Equal(t, testChunkSize, c.chunkSize)
	assert.Equal(t, testChunkSize, c.freeBytes)
	assert.Zero(t, c.usage())
	assert.Equal(t, byte(0), c.value(1))
	// leaves
	assert.Equal(t, byte(testMaxOrder), c.value(1<<testMaxOrder))
	assert.Equal(t, testPageSize, c.runLength(1<<testMaxOrder))
	assert.Equal(t, testChunkSize, c.runLength(1))
	assert.Equal(t, testChunkSize/2, c.runOffset(3))
}

func Test_Chunk_Allocate_Runs(t *testing.T) {
	_, c := newTestChunk(t)

	h1, ok := c.allocate(testPageSize)
	require.True(t, ok)
	assert.False(t, h1.isSubpage())
	assert.Equal(t, 0, c.runOffset(int(h1.memoryMapIdx)))

	// a 2 pages run can't share the first half-of-quarter with h1
	h2, ok := c.allocate(2 * testPageSize)
	require.True(t, ok)
	assert.Equal(t, 2*testPageSize, c.runOffset(int(h2.memoryMapIdx)))

	h3, ok := c.allocate(testPageSize)
	require.True(t, ok)
	// buddy of h1
	assert.Equal(t, testPageSize, c.runOffset(int(h3.memoryMapIdx)))

	assert.Equal(t, testChunkSize-4*testPageSize, c.freeBytes)
	assert.Equal(t, 25, c.usage())

	// half of the chunk is not available anymore as a single run
	_, ok = c.allocate(testChunkSize)
	assert.False(t, ok)
	h4, ok := c.allocate(testChunkSize / 2)
	require.True(t, ok)
	assert.Equal(t, testChunkSize/2, c.runOffset(int(h4.memoryMapIdx)))

	_, ok = c.allocate(testChunkSize / 2)
	assert.False(t, ok)
}

func Test_Chunk_Usage(t *testing.T) {
	_, c := newTestChunk(t)

	c.freeBytes = 0
	assert.Equal(t, 100, c.usage())

	// less than 1% free still counts as not full
	c.freeBytes = 1
	assert.Equal(t, 99, c.usage())

	c.freeBytes = testChunkSize / 4
	assert.Equal(t, 75, c.usage())
}

func Test_Chunk_Subpage_Reuses_Freed_Slot(t *testing.T) {
	p := newTestAllocator(t)

	b1, err := p.Allocate(100)
	require.NoError(t, err)
	b2, err := p.Allocate(100)
	require.NoError(t, err)
	b3, err := p.Allocate(100)
	require.NoError(t, err)

	pb1, pb2, pb3 := asPooled(t, b1), asPooled(t, b2), asPooled(t, b3)
	require.Same(t, pb1.chunk, pb2.chunk)
	require.Same(t, pb1.chunk, pb3.chunk)
	// 100 bytes are served from the 112 bytes size class, all out of one page
	assert.Equal(t, 112, pb1.maxLength)
	assert.Equal(t, pb1.handle.memoryMapIdx, pb3.handle.memoryMapIdx)
	assert.Equal(t, testChunkSize-testPageSize, pb1.chunk.freeBytes)

	freedHandle := pb2.handle
	mustRelease(t, b2)

	b4, err := p.Allocate(100)
	require.NoError(t, err)
	pb4 := asPooled(t, b4)
	assert.Equal(t, freedHandle, pb4.handle)
	// no new page was taken from the tree
	assert.Equal(t, testChunkSize-testPageSize, pb4.chunk.freeBytes)

	for _, b := range []IByteBuf{b1, b3, b4} {
		mustRelease(t, b)
	}
}

func Test_Chunk_Coalesces_Back_To_Fresh(t *testing.T) {
	a, c := newTestChunk(t)
	fresh := append([]byte(nil), c.memoryMap...)

	sizes := []int{16, 112, 496, 512, 1024, 2048, testPageSize, 2 * testPageSize, 4 * testPageSize}
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		var handles []handle
		for {
			norm := a.normalizeCapacity(sizes[rnd.Intn(len(sizes))])
			h, ok := c.allocate(norm)
			if !ok {
				break
			}
			handles = append(handles, h)
		}
		require.NotEmpty(t, handles)

		rnd.Shuffle(len(handles), func(i, j int) {
			handles[i], handles[j] = handles[j], handles[i]
		})
		for _, h := range handles {
			c.free(h)
		}

		assert.True(t, c.isUnused())
		assert.Equal(t, fresh, c.memoryMap)
		for _, head := range append(a.tinySubpagePools, a.smallSubpagePools...) {
			assert.Same(t, head, head.next, "subpage pools must be drained")
		}

		// a whole chunk run proves every buddy got merged back
		h, ok := c.allocate(testChunkSize)
		require.True(t, ok)
		c.free(h)
	}
}

func Test_Chunk_Invalid_Free_Panics(t *testing.T) {
	_, c := newTestChunk(t)

	h, ok := c.allocate(testPageSize)
	require.True(t, ok)
	c.free(h)

	// double free
	assert.Panics(t, func() { c.free(h) })

	// handle of another chunk
	h, ok = c.allocate(testPageSize)
	require.True(t, ok)
	foreign := h
	foreign.chunkID++
	assert.Panics(t, func() { c.free(foreign) })

	// out of range node
	assert.Panics(t, func() { c.free(runHandle(c.id, len(c.memoryMap))) })

	// subpage element that was never handed out
	sh, ok := c.allocate(64)
	require.True(t, ok)
	unknown := sh
	unknown.bitmapIdx++
	assert.Panics(t, func() { c.free(unknown) })

	c.free(sh)
	c.free(h)
	assert.True(t, c.isUnused())
}

func Test_Chunk_Free_Rejects_Run_Handle_On_Split_Node(t *testing.T) {
	_, c := newTestChunk(t)

	left, ok := c.allocate(testPageSize)
	require.True(t, ok)
	right, ok := c.allocate(testPageSize)
	require.True(t, ok)

	// both buddies are taken, so their parent looks fully allocated too
	parent := int(left.memoryMapIdx) >> 1
	require.Equal(t, parent, int(right.memoryMapIdx)>>1)
	require.Equal(t, c.unusable, c.value(parent))
	assert.Panics(t, func() { c.free(runHandle(c.id, parent)) })

	c.free(left)
	c.free(right)
	assert.True(t, c.isUnused())
	assert.Equal(t, byte(0), c.value(1))
}
