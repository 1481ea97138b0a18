package go_pooled_bytebuf

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/internal/memory"
)

// unpooledByteBuf owns a dedicated region, handed back to the source on the final release
type unpooledByteBuf struct {
	byteBuf
	source memory.ISource
	region []byte
	// onDealloc bookkeeping of whoever handed out this buffer
	onDealloc func(capacity int)
}

func newUnpooledByteBuf(source memory.ISource, capacity int, onDealloc func(capacity int)) (*unpooledByteBuf, error) {
	region, err := source.Allocate(capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: unpooled buffer of %d bytes: %w", ErrResourceExhaustion, capacity, err)
	}

	b := &unpooledByteBuf{
		source:    source,
		region:    region,
		onDealloc: onDealloc,
	}
	b.reset()
	b.capacity = capacity
	b.memory = region[:capacity:capacity]
	return b, nil
}

func (u *unpooledByteBuf) Retain() (IByteBuf, error) {
	if err := u.retain(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *unpooledByteBuf) Release() (bool, error) {
	dead, err := u.release()
	if err != nil || !dead {
		return dead, err
	}
	return true, u.deallocate()
}

func (u *unpooledByteBuf) deallocate() error {
	region := u.region
	u.region, u.memory = nil, nil

	if u.onDealloc != nil {
		u.onDealloc(u.capacity)
	}
	if err := u.source.Release(region); err != nil {
		zap.L().Warn("failed to release unpooled region", zap.Int("capacity", u.capacity), zap.Error(err))
		return err
	}
	return nil
}

func (u *unpooledByteBuf) String() string {
	if u.RefCnt() == 0 {
		return fmt.Sprintf("UnpooledByteBuf(freed, cap: %d)", u.capacity)
	}
	return fmt.Sprintf("UnpooledByteBuf(refCnt: %d, cap: %d)", u.RefCnt(), u.capacity)
}

var _ IByteBuf = (*unpooledByteBuf)(nil)
