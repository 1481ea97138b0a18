package go_pooled_bytebuf

import (
	"fmt"
	"io"
)

// pooledByteBuf a slot of a chunk, either a page run or a subpage element. It is
// never handed out as is: callers get a pooledView stamped with the generation
// of the allocation.
type pooledByteBuf struct {
	byteBuf

	chunk  *chunk
	handle handle
	// maxLength size of the slot backing this buffer, always >= capacity
	maxLength int

	// recyclerHandle set when the wrapper was drawn from a ThreadCache recycler
	recyclerHandle *recyclerHandle[*pooledByteBuf]
}

func newPooledByteBuf(h *recyclerHandle[*pooledByteBuf]) *pooledByteBuf {
	return &pooledByteBuf{recyclerHandle: h}
}

func (p *pooledByteBuf) init(c *chunk, h handle, offset, capacity, maxLength int) {
	p.chunk = c
	p.handle = h
	p.capacity = capacity
	p.maxLength = maxLength
	p.memory = c.memory[offset : offset+capacity : offset+maxLength]
	p.reset()
}

// view the reference handed to the caller of the current allocation
func (p *pooledByteBuf) view() *pooledView {
	return &pooledView{buf: p, gen: p.generation(), capacity: p.capacity}
}

// releaseTo drops a reference of generation gen, and on the last one hands the
// slot to cache first, falling back to the arena
func (p *pooledByteBuf) releaseTo(gen uint32, cache *ThreadCache) (bool, error) {
	dead, err := p.releaseAt(gen)
	if err != nil || !dead {
		return dead, err
	}

	c, h, maxLength := p.chunk, p.handle, p.maxLength
	p.chunk, p.memory = nil, nil

	if err := c.arena.free(c, h, maxLength, cache); err != nil {
		return true, err
	}

	if cache != nil && p.recyclerHandle != nil && p.recyclerHandle.owner == cache.recycler {
		if err := cache.recycler.recycle(p, p.recyclerHandle); err != nil {
			return true, err
		}
	}
	return true, nil
}

// pooledView binds a pooledByteBuf to one allocation. Once that allocation is
// released the wrapper may serve another one, a view of an older generation then
// fails every access instead of reaching the new owner's slot.
type pooledView struct {
	buf      *pooledByteBuf
	gen      uint32
	capacity int
}

func (v *pooledView) ensureAccessible() error {
	if v.buf.refCntAt(v.gen) == 0 {
		return ErrAccessAfterRelease
	}
	return nil
}

func (v *pooledView) Capacity() int {
	return v.capacity
}

func (v *pooledView) Get(index, length int) ([]byte, error) {
	if err := v.ensureAccessible(); err != nil {
		return nil, err
	}
	return v.buf.Get(index, length)
}

func (v *pooledView) GetBytes(index int, dst []byte) error {
	if err := v.ensureAccessible(); err != nil {
		return err
	}
	return v.buf.GetBytes(index, dst)
}

func (v *pooledView) SetBytes(index int, src []byte) error {
	if err := v.ensureAccessible(); err != nil {
		return err
	}
	return v.buf.SetBytes(index, src)
}

func (v *pooledView) ReadBytes(dst []byte) error {
	return v.GetBytes(0, dst)
}

func (v *pooledView) WriteBytes(src []byte) error {
	return v.SetBytes(0, src)
}

func (v *pooledView) ReadTo(w io.Writer, length int) (int, error) {
	if err := v.ensureAccessible(); err != nil {
		return 0, err
	}
	return v.buf.ReadTo(w, length)
}

func (v *pooledView) WriteFrom(r io.Reader, length int) (int, error) {
	if err := v.ensureAccessible(); err != nil {
		return 0, err
	}
	return v.buf.WriteFrom(r, length)
}

func (v *pooledView) RefCnt() int32 {
	return v.buf.refCntAt(v.gen)
}

func (v *pooledView) Retain() (IByteBuf, error) {
	if err := v.buf.retainAt(v.gen); err != nil {
		return nil, err
	}
	return v, nil
}

// Release the slot goes straight back to its arena
func (v *pooledView) Release() (bool, error) {
	return v.buf.releaseTo(v.gen, nil)
}

func (v *pooledView) String() string {
	if cnt := v.RefCnt(); cnt > 0 {
		return fmt.Sprintf("PooledByteBuf(refCnt: %d, cap: %d)", cnt, v.capacity)
	}
	return fmt.Sprintf("PooledByteBuf(freed, cap: %d)", v.capacity)
}

var _ IByteBuf = (*pooledView)(nil)
