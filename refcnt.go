package go_pooled_bytebuf

import (
	"fmt"
	"math"
	"sync/atomic"
)

// refCnt an atomic reference counter starting at 1. The low 32 bits of word hold
// the count, the high 32 bits a generation bumped on every reset, so that a
// holder from a previous life of a reused wrapper can be told apart. The
// transition to 0 happens exactly once per generation, whoever wins that CAS
// owns the deallocation.
type refCnt struct {
	word atomic.Uint64
}

func packRefCnt(gen uint32, cnt int32) uint64 {
	return uint64(gen)<<32 | uint64(uint32(cnt))
}

func unpackRefCnt(w uint64) (gen uint32, cnt int32) {
	return uint32(w >> 32), int32(uint32(w))
}

// reset starts a new generation with a count of 1 and returns it. Only the
// owner of a released (or fresh) counter may call it.
func (r *refCnt) reset() uint32 {
	gen, _ := unpackRefCnt(r.word.Load())
	gen++
	r.word.Store(packRefCnt(gen, 1))
	return gen
}

func (r *refCnt) generation() uint32 {
	gen, _ := unpackRefCnt(r.word.Load())
	return gen
}

func (r *refCnt) RefCnt() int32 {
	_, cnt := unpackRefCnt(r.word.Load())
	return cnt
}

// refCntAt the count as seen by a holder of generation gen, 0 once it is stale
func (r *refCnt) refCntAt(gen uint32) int32 {
	cur, cnt := unpackRefCnt(r.word.Load())
	if cur != gen {
		return 0
	}
	return cnt
}

func (r *refCnt) retain() error {
	return r.retainAt(r.generation())
}

func (r *refCnt) retainAt(gen uint32) error {
	for {
		w := r.word.Load()
		cur, cnt := unpackRefCnt(w)
		if cur != gen {
			return fmt.Errorf("%w: stale reference, generation: %d, current: %d", ErrIllegalRefCount, gen, cur)
		}
		if cnt == 0 {
			return fmt.Errorf("%w: refCnt: 0, increment: 1", ErrIllegalRefCount)
		}
		if cnt == math.MaxInt32 {
			return fmt.Errorf("%w: refCnt: %d, increment: 1", ErrIllegalRefCount, cnt)
		}
		if r.word.CompareAndSwap(w, packRefCnt(cur, cnt+1)) {
			return nil
		}
	}
}

// release returns true if this call dropped the count to 0
func (r *refCnt) release() (bool, error) {
	return r.releaseAt(r.generation())
}

func (r *refCnt) releaseAt(gen uint32) (bool, error) {
	for {
		w := r.word.Load()
		cur, cnt := unpackRefCnt(w)
		if cur != gen {
			return false, fmt.Errorf("%w: stale reference, generation: %d, current: %d", ErrIllegalRefCount, gen, cur)
		}
		if cnt == 0 {
			return false, fmt.Errorf("%w: refCnt: 0, decrement: 1", ErrIllegalRefCount)
		}
		if r.word.CompareAndSwap(w, packRefCnt(cur, cnt-1)) {
			return cnt == 1, nil
		}
	}
}
