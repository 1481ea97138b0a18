package memory

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrOutOfMemory   = errors.New("memory source can not satisfy the request")
	ErrInvalidRegion = errors.New("region was not obtained from this memory source")
)

// ISource hands out contiguous regions that live outside the chunk bookkeeping.
// Every region returned by Allocate must be given back to Release exactly once,
// unmodified (same base pointer and length).
type ISource interface {
	Allocate(size int) ([]byte, error)
	Release(region []byte) error

	// InUse number of bytes currently handed out
	InUse() int64
}

// accounting tracks the bytes a source has handed out.
type accounting struct {
	inUse atomic.Int64
}

func (a *accounting) InUse() int64 {
	return a.inUse.Load()
}

func checkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size: %d (expected: > 0)", ErrOutOfMemory, size)
	}
	return nil
}

// NewHeapSource returns a source backed by the Go heap. It is the fallback for
// platforms without anonymous mmap and is handy in tests.
func NewHeapSource() ISource {
	return &heapSource{}
}

type heapSource struct {
	accounting
}

func (h *heapSource) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	region := make([]byte, size)
	h.inUse.Add(int64(size))
	return region, nil
}

func (h *heapSource) Release(region []byte) error {
	if cap(region) == 0 {
		return fmt.Errorf("%w: empty region", ErrInvalidRegion)
	}
	h.inUse.Add(-int64(cap(region)))
	return nil
}

var _ ISource = (*heapSource)(nil)
