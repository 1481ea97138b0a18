package go_pooled_bytebuf

import (
	"errors"
	"fmt"
	"io"
)

// byteBuf holds the accessors shared by every buffer implementation. memory is
// always exactly capacity bytes long.
type byteBuf struct {
	refCnt
	capacity int
	memory   []byte
}

func (b *byteBuf) Capacity() int {
	return b.capacity
}

func (b *byteBuf) ensureAccessible() error {
	if b.RefCnt() == 0 {
		return ErrAccessAfterRelease
	}
	return nil
}

func (b *byteBuf) checkIndex(index, length int) error {
	if err := b.ensureAccessible(); err != nil {
		return err
	}
	if index < 0 || length < 0 || index > b.capacity-length {
		return fmt.Errorf("%w: index: %d, length: %d (expected: range(0, %d))",
			ErrIndexOutOfBounds, index, length, b.capacity)
	}
	return nil
}

func (b *byteBuf) Get(index, length int) ([]byte, error) {
	if err := b.checkIndex(index, length); err != nil {
		return nil, err
	}
	dst := make([]byte, length)
	copy(dst, b.memory[index:index+length])
	return dst, nil
}

func (b *byteBuf) GetBytes(index int, dst []byte) error {
	if err := b.checkIndex(index, len(dst)); err != nil {
		return err
	}
	copy(dst, b.memory[index:index+len(dst)])
	return nil
}

func (b *byteBuf) SetBytes(index int, src []byte) error {
	if err := b.checkIndex(index, len(src)); err != nil {
		return err
	}
	copy(b.memory[index:index+len(src)], src)
	return nil
}

func (b *byteBuf) ReadBytes(dst []byte) error {
	return b.GetBytes(0, dst)
}

func (b *byteBuf) WriteBytes(src []byte) error {
	return b.SetBytes(0, src)
}

func (b *byteBuf) ReadTo(w io.Writer, length int) (int, error) {
	if err := b.checkIndex(0, length); err != nil {
		return 0, err
	}
	return w.Write(b.memory[:length])
}

// WriteFrom keeps reading until length bytes are in, or r is drained. io.EOF is
// only reported when nothing could be read at all.
func (b *byteBuf) WriteFrom(r io.Reader, length int) (int, error) {
	if err := b.checkIndex(0, length); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(r, b.memory[:length])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
