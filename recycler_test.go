package go_pooled_bytebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recycled struct {
	h *recyclerHandle[*recycled]
}

func newRecycled(h *recyclerHandle[*recycled]) *recycled {
	return &recycled{h: h}
}

func Test_Recycler_Reuse(t *testing.T) {
	r := newRecycler(4, newRecycled)

	first := r.get()
	require.NotNil(t, first)
	require.NoError(t, r.recycle(first, first.h))
	assert.Equal(t, 1, r.size())

	// LIFO, the parked object comes back
	assert.Same(t, first, r.get())
	assert.Zero(t, r.size())

	// nothing parked, a fresh one is built
	second := r.get()
	assert.NotSame(t, first, second)
}

func Test_Recycler_Rejects_Foreign_And_Duplicate(t *testing.T) {
	r1 := newRecycler(4, newRecycled)
	r2 := newRecycler(4, newRecycled)

	fromR2 := r2.get()
	assert.ErrorIs(t, r1.recycle(fromR2, fromR2.h), ErrForeignRecycle)
	assert.ErrorIs(t, r1.recycle(fromR2, nil), ErrForeignRecycle)

	fromR1 := r1.get()
	other := r1.get()
	// handle and value must match
	assert.ErrorIs(t, r1.recycle(fromR1, other.h), ErrForeignRecycle)

	require.NoError(t, r1.recycle(fromR1, fromR1.h))
	assert.ErrorIs(t, r1.recycle(fromR1, fromR1.h), ErrForeignRecycle)
	assert.Equal(t, 1, r1.size())
}

func Test_Recycler_Bounded(t *testing.T) {
	r := newRecycler(2, newRecycled)

	objs := []*recycled{r.get(), r.get(), r.get()}
	for _, o := range objs {
		require.NoError(t, r.recycle(o, o.h))
	}
	assert.Equal(t, 2, r.size())

	disabled := newRecycler(0, newRecycled)
	o := disabled.get()
	require.NoError(t, disabled.recycle(o, o.h))
	assert.Zero(t, disabled.size())
}
