package go_pooled_bytebuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

const (
	testPageSize  = 4096
	testMaxOrder  = 4
	testChunkSize = testPageSize << testMaxOrder // 64 KiB
)

// newTestAllocator a single arena allocator with 64 KiB chunks on the Go heap
func newTestAllocator(t *testing.T, opts ...AllocatorOpt) *PooledAllocator {
	t.Helper()
	base := []AllocatorOpt{
		WithArenaNum(1),
		WithPageSize(testPageSize),
		WithMaxOrder(testMaxOrder),
		WithMemorySource(memory.NewHeapSource()),
	}
	p, err := NewAllocator(append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func asPooled(t *testing.T, buf IByteBuf) *pooledByteBuf {
	t.Helper()
	v, ok := buf.(*pooledView)
	require.Truef(t, ok, "expected a pooled buffer, got %T", buf)
	return v.buf
}

func mustRelease(t *testing.T, buf IByteBuf) {
	t.Helper()
	dead, err := buf.Release()
	require.NoError(t, err)
	require.True(t, dead)
}
