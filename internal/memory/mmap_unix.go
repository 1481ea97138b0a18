//go:build unix

package memory

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// NewSource returns the default off-heap source: private anonymous mappings.
func NewSource() ISource {
	return &mmapSource{}
}

type mmapSource struct {
	accounting
}

func (m *mmapSource) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		zap.L().Warn("Failed to map anonymous region", zap.Int("size", size), zap.Error(err))
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrOutOfMemory, size, err)
	}
	m.inUse.Add(int64(size))
	return region, nil
}

func (m *mmapSource) Release(region []byte) error {
	if cap(region) == 0 {
		return fmt.Errorf("%w: empty region", ErrInvalidRegion)
	}
	// munmap needs the original mapping, so widen the slice back to its capacity
	full := unsafe.Slice(unsafe.SliceData(region), cap(region))
	if err := unix.Munmap(full); err != nil {
		return fmt.Errorf("%w: munmap: %w", ErrInvalidRegion, err)
	}
	m.inUse.Add(-int64(len(full)))
	return nil
}

var _ ISource = (*mmapSource)(nil)
