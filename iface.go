package go_pooled_bytebuf

import "io"

// IByteBuf is a fixed capacity, reference counted view of memory. It has no
// reader/writer cursor: every accessor addresses the buffer window explicitly,
// and the bulk Read/Write helpers always start at index 0.
type IByteBuf interface {
	// Capacity the logical size requested at allocation time
	Capacity() int

	// Get copies length bytes starting at index into a fresh slice
	Get(index, length int) ([]byte, error)
	// GetBytes copies len(dst) bytes starting at index into dst
	GetBytes(index int, dst []byte) error
	// SetBytes copies src into the buffer starting at index
	SetBytes(index int, src []byte) error

	// ReadBytes fills dst with the first len(dst) bytes of the buffer
	ReadBytes(dst []byte) error
	// WriteBytes copies src to the beginning of the buffer
	WriteBytes(src []byte) error
	// ReadTo writes the first length bytes of the buffer to w
	ReadTo(w io.Writer, length int) (int, error)
	// WriteFrom reads up to length bytes from r into the beginning of the buffer
	WriteFrom(r io.Reader, length int) (int, error)

	IRefCounted
}

type IRefCounted interface {
	RefCnt() int32
	// Retain increases the reference count by 1
	Retain() (IByteBuf, error)
	// Release decreases the reference count by 1 and deallocates the buffer
	// when it reaches 0. It reports whether this call deallocated the buffer.
	Release() (bool, error)
}

type IAllocator interface {
	Allocate(capacity int) (IByteBuf, error)
}

// StatsSource anything that can snapshot allocator statistics
type StatsSource interface {
	Stats() Stats
}
