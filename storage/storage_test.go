package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/compression"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

func newTestAllocator(t *testing.T) *go_pooled_bytebuf.PooledAllocator {
	t.Helper()
	alloc, err := go_pooled_bytebuf.NewAllocator(
		go_pooled_bytebuf.WithArenaNum(2),
		go_pooled_bytebuf.WithPageSize(4096),
		go_pooled_bytebuf.WithMaxOrder(6),
		go_pooled_bytebuf.WithMemorySource(memory.NewHeapSource()),
	)
	require.NoError(t, err)
	return alloc
}

func fakeSentence(t *testing.T) string {
	t.Helper()
	s := struct {
		Sentence string `faker:"sentence"`
	}{}
	require.NoError(t, faker.FakeData(&s))
	return s.Sentence
}

func Test_Storage_Put_Then_Get(t *testing.T) {
	for _, ct := range []compression.Type{compression.None, compression.Snappy, compression.Zstd} {
		t.Run(ct.String(), func(t *testing.T) {
			alloc := newTestAllocator(t)
			s, err := New(alloc, WithCompression(ct), WithShardNum(4))
			require.NoError(t, err)

			data := Data{
				Type:    7,
				Schema:  "user.v1",
				Payload: []byte(fakeSentence(t)),
			}
			ref, err := s.Put(42, data)
			require.NoError(t, err)
			assert.Equal(t, 1, s.Len())
			assert.Positive(t, ref.Size())
			assert.Greater(t, ref.HeapCost(), len(data.Schema))
			if ct == compression.None {
				assert.Equal(t, len(data.Payload), ref.Size())
			}

			// reads are repeatable
			for i := 0; i < 2; i++ {
				got, err := s.Get(42, ref)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			}

			require.NoError(t, s.Remove(42, ref))
			assert.Zero(t, s.Len())

			_, err = s.Get(42, ref)
			assert.ErrorIs(t, err, go_pooled_bytebuf.ErrIllegalRefCount)
			assert.ErrorIs(t, s.Remove(42, ref), ErrUnknownRef)

			for _, a := range alloc.Stats().Arenas {
				assert.Zero(t, a.NumChunks())
			}
		})
	}
}

func Test_Storage_Compression_Saves_Space(t *testing.T) {
	alloc := newTestAllocator(t)
	plain, err := New(alloc)
	require.NoError(t, err)
	packed, err := New(alloc, WithCompression(compression.Snappy))
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	plainRef, err := plain.Put(1, Data{Payload: payload})
	require.NoError(t, err)
	packedRef, err := packed.Put(1, Data{Payload: payload})
	require.NoError(t, err)
	assert.Less(t, packedRef.Size(), plainRef.Size())

	// refs are bound to the storage that created them
	assert.ErrorIs(t, plain.Remove(1, packedRef), ErrUnknownRef)

	require.NoError(t, plain.Destroy())
	require.NoError(t, packed.Destroy())
}

func Test_Storage_Empty_Payload(t *testing.T) {
	s, err := New(newTestAllocator(t))
	require.NoError(t, err)

	ref, err := s.Put(0, Data{Type: 1})
	require.NoError(t, err)
	assert.Zero(t, ref.Size())

	got, err := s.Get(0, ref)
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
	assert.Equal(t, int32(1), got.Type)
	require.NoError(t, s.Remove(0, ref))
}

func Test_Storage_Destroy(t *testing.T) {
	alloc := newTestAllocator(t)
	s, err := New(alloc)
	require.NoError(t, err)

	var refs []*DataRef
	for i := 0; i < 100; i++ {
		ref, err := s.Put(int32(i), Data{Payload: []byte(fmt.Sprintf("value-%d", i))})
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.NoError(t, s.Remove(0, refs[0]))

	require.NoError(t, s.Destroy())
	assert.Zero(t, s.Len())
	for _, a := range alloc.Stats().Arenas {
		assert.Zero(t, a.NumChunks())
	}

	assert.ErrorIs(t, s.Destroy(), ErrStorageDestroyed)
	_, err = s.Put(1, Data{})
	assert.ErrorIs(t, err, ErrStorageDestroyed)
	_, err = s.Get(1, refs[1])
	assert.ErrorIs(t, err, ErrStorageDestroyed)
	assert.ErrorIs(t, s.Remove(1, refs[1]), ErrStorageDestroyed)
}

func Test_Storage_Invalid_Options(t *testing.T) {
	_, err := New(newTestAllocator(t), WithShardNum(0))
	assert.Error(t, err)
	_, err = New(newTestAllocator(t), WithCompression(compression.Type(9)))
	assert.Error(t, err)
}

func Test_Storage_Concurrent_Access(t *testing.T) {
	alloc := newTestAllocator(t)
	s, err := New(alloc, WithCompression(compression.Zstd))
	require.NoError(t, err)

	eg := errgroup.Group{}
	eg.SetLimit(8)
	for w := 0; w < 32; w++ {
		eg.Go(func() error {
			for i := 0; i < 50; i++ {
				hash := int32(w*1000 + i)
				payload := bytes.Repeat([]byte{byte(w), byte(i)}, 1+i*10)
				ref, err := s.Put(hash, Data{Type: hash, Payload: payload})
				if err != nil {
					return err
				}
				got, err := s.Get(hash, ref)
				if err != nil {
					return err
				}
				if got.Type != hash || !bytes.Equal(got.Payload, payload) {
					return fmt.Errorf("worker %d: payload %d mismatch", w, i)
				}
				if i%2 == 0 {
					if err := s.Remove(hash, ref); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 32*25, s.Len())

	require.NoError(t, s.Destroy())
	for _, a := range alloc.Stats().Arenas {
		assert.Zero(t, a.NumChunks())
	}
}

func Test_Storage_Put_Racing_Destroy(t *testing.T) {
	for round := 0; round < 20; round++ {
		alloc := newTestAllocator(t)
		s, err := New(alloc)
		require.NoError(t, err)

		eg := errgroup.Group{}
		for w := 0; w < 4; w++ {
			eg.Go(func() error {
				for i := 0; ; i++ {
					_, err := s.Put(int32(w*1000+i), Data{Payload: bytes.Repeat([]byte{byte(i)}, 64)})
					if errors.Is(err, ErrStorageDestroyed) {
						return nil
					}
					if err != nil {
						return err
					}
				}
			})
		}
		eg.Go(s.Destroy)
		require.NoError(t, eg.Wait())

		// whatever Put lost the race gave its buffer back
		assert.Zero(t, s.Len())
		for _, a := range alloc.Stats().Arenas {
			assert.Zero(t, a.NumChunks())
		}
		assert.Zero(t, alloc.Stats().SourceInUse)
	}
}

func Test_Storage_Track_After_Destroy(t *testing.T) {
	var destroyed atomic.Bool
	sh := &shard{refs: make(map[uint64]*DataRef)}

	assert.True(t, sh.track(&DataRef{id: 1}, &destroyed))
	destroyed.Store(true)
	assert.False(t, sh.track(&DataRef{id: 2}, &destroyed))
	assert.Len(t, sh.drain(), 1)
}
