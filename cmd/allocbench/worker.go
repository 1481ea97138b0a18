package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/config"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/storage"
)

type workerResult struct {
	allocations int64
	bytes       int64
	storageOps  int64
}

func (r *workerResult) add(other workerResult) {
	r.allocations += other.allocations
	r.bytes += other.bytes
	r.storageOps += other.storageOps
}

// runWorker allocates, fills, verifies and releases buffers through its own
// ThreadCache until ctx is done. Every StorageEvery-th round also goes through
// a put/get/remove cycle on the shared storage.
func runWorker(ctx context.Context, id int, alloc *go_pooled_bytebuf.PooledAllocator, store *storage.Storage, cfg config.BenchConfig) (workerResult, error) {
	tc := alloc.NewThreadCache()
	defer func() {
		if err := tc.Close(); err != nil {
			zap.L().Error("Failed to close thread cache", zap.Int("worker", id), zap.Error(err))
		}
	}()

	var (
		res  workerResult
		rnd  = rand.New(rand.NewSource(int64(id)))
		live = make([]go_pooled_bytebuf.IByteBuf, 0, cfg.LiveBuffers+1)
	)
	defer func() { releaseAll(id, tc, live) }()

	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			return res, nil
		default:
		}

		size := cfg.MinSize
		if cfg.MaxSize > cfg.MinSize {
			size += rnd.Intn(cfg.MaxSize - cfg.MinSize + 1)
		}
		buf, err := tc.Allocate(size)
		if err != nil {
			return res, err
		}
		res.allocations++
		res.bytes += int64(size)

		fill := byte(id + round)
		if err := buf.WriteBytes(bytes.Repeat([]byte{fill}, size)); err != nil {
			return res, err
		}
		live = append(live, buf)

		if len(live) > cfg.LiveBuffers {
			idx := rnd.Intn(len(live))
			victim := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]

			if err := verify(victim); err != nil {
				return res, fmt.Errorf("worker %d: %w", id, err)
			}
			if _, err := tc.Release(victim); err != nil {
				return res, err
			}
		}

		if cfg.StorageEvery > 0 && round%cfg.StorageEvery == 0 {
			if err := storageCycle(store, int32(id<<16|round&0xFFFF), size, fill); err != nil {
				return res, fmt.Errorf("worker %d: %w", id, err)
			}
			res.storageOps++
		}
	}
}

// releaseAll gives back the buffers a worker still holds, returns how many failed
func releaseAll(id int, tc *go_pooled_bytebuf.ThreadCache, live []go_pooled_bytebuf.IByteBuf) int {
	failed := 0
	for _, buf := range live {
		if _, err := tc.Release(buf); err != nil {
			failed++
			zap.L().Error("Failed to release live buffer",
				zap.Int("worker", id),
				zap.Int("capacity", buf.Capacity()),
				zap.Error(err),
			)
		}
	}
	return failed
}

// verify every byte of buf carries the same value
func verify(buf go_pooled_bytebuf.IByteBuf) error {
	if buf.Capacity() == 0 {
		return nil
	}
	data, err := buf.Get(0, buf.Capacity())
	if err != nil {
		return err
	}
	if !bytes.Equal(data, bytes.Repeat(data[:1], len(data))) {
		return fmt.Errorf("buffer %v got corrupted", buf)
	}
	return nil
}

func storageCycle(store *storage.Storage, hash int32, size int, fill byte) error {
	payload := bytes.Repeat([]byte{fill}, size)
	ref, err := store.Put(hash, storage.Data{Type: int32(fill), Payload: payload})
	if err != nil {
		return err
	}
	got, err := store.Get(hash, ref)
	if err != nil {
		return err
	}
	if !bytes.Equal(got.Payload, payload) {
		return fmt.Errorf("storage returned a different payload for hash %d", hash)
	}
	return store.Remove(hash, ref)
}
