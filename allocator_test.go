package go_pooled_bytebuf

import (
	"bytes"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

func Test_Allocator_Configuration(t *testing.T) {
	type param struct {
		name    string
		opts    []AllocatorOpt
		wantErr string
	}

	tests := []param{
		{name: "defaults"},
		{name: "smallest page", opts: []AllocatorOpt{WithPageSize(4096), WithMaxOrder(0)}},
		{name: "largest chunk", opts: []AllocatorOpt{WithPageSize(1 << 20), WithMaxOrder(10)}},
		{name: "no arena", opts: []AllocatorOpt{WithArenaNum(0)}},
		{
			name:    "page below floor",
			opts:    []AllocatorOpt{WithPageSize(1024)},
			wantErr: "pageSize: 1024 (expected: 4096+)",
		},
		{
			name:    "page not a power of 2",
			opts:    []AllocatorOpt{WithPageSize(5000)},
			wantErr: "pageSize: 5000 (expected: power of 2)",
		},
		{
			name:    "order too deep",
			opts:    []AllocatorOpt{WithMaxOrder(15)},
			wantErr: "maxOrder: 15 (expected: 0-14)",
		},
		{
			name:    "negative order",
			opts:    []AllocatorOpt{WithMaxOrder(-1)},
			wantErr: "maxOrder: -1 (expected: 0-14)",
		},
		{
			name:    "chunk overflow",
			opts:    []AllocatorOpt{WithPageSize(1 << 20), WithMaxOrder(11)},
			wantErr: fmt.Sprintf("pageSize (%d) << maxOrder (11) must not exceed %d", 1<<20, 1<<30),
		},
		{
			name:    "negative arenas",
			opts:    []AllocatorOpt{WithArenaNum(-1)},
			wantErr: "arenaNum: -1 (expected: >= 0)",
		},
		{
			name:    "negative cache size",
			opts:    []AllocatorOpt{WithSmallCacheSize(-1)},
			wantErr: "smallCacheSize: -1 (expected: >= 0)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewAllocator(tc.opts...)
			if tc.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, p)
				return
			}
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func Test_Allocator_Defaults(t *testing.T) {
	p, err := NewAllocator()
	require.NoError(t, err)

	assert.Equal(t, runtime.GOMAXPROCS(0), p.NumArenas())
	assert.Equal(t, 8*KiB, p.PageSize())
	assert.Equal(t, 16*MiB, p.ChunkSize())

	// backed by the default memory source
	buf, err := p.Allocate(3 * KiB)
	require.NoError(t, err)
	require.NoError(t, buf.WriteBytes(bytes.Repeat([]byte{1}, 3*KiB)))
	assert.Equal(t, int64(16*MiB), p.Stats().SourceInUse)
	mustRelease(t, buf)
	assert.Zero(t, p.Stats().SourceInUse)
}

func Test_Allocator_Negative_Capacity(t *testing.T) {
	p := newTestAllocator(t)
	_, err := p.Allocate(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	tc := p.NewThreadCache()
	defer func() { require.NoError(t, tc.Close()) }()
	_, err = tc.Allocate(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	buf, err := tc.Allocate(0)
	require.NoError(t, err)
	assert.Same(t, Empty, buf)
}

func Test_Allocator_Without_Arena(t *testing.T) {
	p := newTestAllocator(t, WithArenaNum(0))
	tc := p.NewThreadCache()

	for _, alloc := range []IAllocator{p, tc} {
		buf, err := alloc.Allocate(100)
		require.NoError(t, err)
		_, ok := buf.(*unpooledByteBuf)
		assert.True(t, ok)
		require.NoError(t, buf.WriteBytes([]byte("hello")))
		mustRelease(t, buf)
	}
	require.NoError(t, tc.Close())

	stats := p.Stats()
	assert.Empty(t, stats.Arenas)
	assert.Equal(t, int64(2), stats.UnpooledAllocations)
	assert.Equal(t, int64(2), stats.UnpooledDeallocations)
	assert.Zero(t, stats.UnpooledActiveBytes)
	assert.Zero(t, stats.SourceInUse)
}

func Test_Allocator_Thread_Caches_Round_Robin(t *testing.T) {
	p := newTestAllocator(t, WithArenaNum(3))

	var caches []*ThreadCache
	for i := 0; i < 6; i++ {
		tc := p.NewThreadCache()
		assert.Equal(t, i%3, tc.arena.id)
		caches = append(caches, tc)
	}
	for _, a := range p.Stats().Arenas {
		assert.Equal(t, int64(2), a.ThreadCaches)
	}

	for _, tc := range caches {
		require.NoError(t, tc.Close())
	}
	for _, a := range p.Stats().Arenas {
		assert.Zero(t, a.ThreadCaches)
	}
}

func Test_Allocator_Capacity_Property(t *testing.T) {
	p := newTestAllocator(t, WithArenaNum(2))
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		sz := 1 + rnd.Intn(2*testChunkSize)
		buf, err := p.Allocate(sz)
		require.NoError(t, err)
		require.Equal(t, sz, buf.Capacity())

		require.NoError(t, buf.SetBytes(sz-1, []byte{0xFF}))
		_, err = buf.Get(sz, 1)
		require.ErrorIs(t, err, ErrIndexOutOfBounds)
		mustRelease(t, buf)
	}

	stats := p.Stats()
	for _, a := range stats.Arenas {
		assert.Zero(t, a.NumChunks())
		assert.Equal(t, a.NumAllocations(), a.NumDeallocations())
	}
	assert.Zero(t, stats.SourceInUse)
}

func Test_Allocator_Concurrent_Thread_Caches(t *testing.T) {
	const (
		workers = 8
		rounds  = 2000
	)
	p := newTestAllocator(t, WithArenaNum(3), WithCacheTrimInterval(256))

	eg := errgroup.Group{}
	eg.SetLimit(workers)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			tc := p.NewThreadCache()
			rnd := rand.New(rand.NewSource(int64(w)))
			var live []IByteBuf

			for i := 0; i < rounds; i++ {
				sz := 1 + rnd.Intn(3*testPageSize)
				buf, err := tc.Allocate(sz)
				if err != nil {
					return err
				}
				pattern := bytes.Repeat([]byte{byte(w)}, sz)
				if err := buf.WriteBytes(pattern); err != nil {
					return err
				}
				live = append(live, buf)

				// keep a handful of buffers alive to interleave slots
				if len(live) < 16 {
					continue
				}
				idx := rnd.Intn(len(live))
				victim := live[idx]
				live = append(live[:idx], live[idx+1:]...)

				got, err := victim.Get(0, victim.Capacity())
				if err != nil {
					return err
				}
				if !bytes.Equal(got, bytes.Repeat([]byte{byte(w)}, victim.Capacity())) {
					return fmt.Errorf("worker %d: buffer %v got corrupted", w, victim)
				}

				// half of the releases skip the cache
				if rnd.Intn(2) == 0 {
					_, err = tc.Release(victim)
				} else {
					_, err = victim.Release()
				}
				if err != nil {
					return err
				}
			}

			for _, buf := range live {
				if _, err := tc.Release(buf); err != nil {
					return err
				}
			}
			return tc.Close()
		})
	}
	require.NoError(t, eg.Wait())

	stats := p.Stats()
	for _, a := range stats.Arenas {
		assert.Zero(t, a.NumChunks(), "arena %d", a.ID)
		assert.Equal(t, a.ChunksCreated, a.ChunksDestroyed)
	}
	assert.Zero(t, stats.SourceInUse)
}

func Test_Allocator_Concurrent_Shared_Allocator(t *testing.T) {
	p := newTestAllocator(t, WithArenaNum(2), WithMemorySource(memory.NewHeapSource()))

	eg := errgroup.Group{}
	eg.SetLimit(4)
	for w := 0; w < 16; w++ {
		eg.Go(func() error {
			for i := 0; i < 200; i++ {
				buf, err := p.Allocate(1 + (w*131+i*17)%(2*testPageSize))
				if err != nil {
					return err
				}
				retained, err := buf.Retain()
				if err != nil {
					return err
				}
				if _, err := buf.Release(); err != nil {
					return err
				}
				if _, err := retained.Release(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for _, a := range p.Stats().Arenas {
		assert.Zero(t, a.NumChunks())
	}
	assert.Contains(t, p.String(), "Arena 0")
}
