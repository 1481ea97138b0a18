package go_pooled_bytebuf

import "errors"

// Errors \\

var (
	// ErrInvalidConfiguration rejected allocator options, raised by NewAllocator only
	ErrInvalidConfiguration = errors.New("invalid allocator configuration")
	// ErrIndexOutOfBounds index or length outside of [0, capacity]
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	// ErrAccessAfterRelease the buffer has been accessed after its reference count reached 0
	ErrAccessAfterRelease = errors.New("buffer accessed after release")
	// ErrIllegalRefCount retain of a released buffer, or release past zero
	ErrIllegalRefCount = errors.New("illegal reference count")
	// ErrResourceExhaustion the memory source could not back a new chunk or unpooled buffer
	ErrResourceExhaustion = errors.New("memory resource exhausted")
	// ErrThreadCacheClosed allocation through a closed thread cache
	ErrThreadCacheClosed = errors.New("thread cache is closed")
	// ErrForeignRecycle the object was drawn from another recycler, or is already pooled
	ErrForeignRecycle = errors.New("object does not belong to this recycler")
)
