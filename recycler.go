package go_pooled_bytebuf

import "fmt"

// recycler is a bounded free list of wrapper objects. It is owned by a single
// ThreadCache, hence not safe for concurrent use.
type recycler[T comparable] struct {
	capacity int
	newFn    func(h *recyclerHandle[T]) T
	stack    []*recyclerHandle[T]
}

// recyclerHandle ties a pooled object to the recycler that created it
type recyclerHandle[T comparable] struct {
	owner  *recycler[T]
	value  T
	pooled bool
}

func newRecycler[T comparable](capacity int, newFn func(h *recyclerHandle[T]) T) *recycler[T] {
	return &recycler[T]{
		capacity: capacity,
		newFn:    newFn,
		stack:    make([]*recyclerHandle[T], 0, min(capacity, 64)),
	}
}

func (r *recycler[T]) get() T {
	if n := len(r.stack); n > 0 {
		h := r.stack[n-1]
		r.stack[n-1] = nil
		r.stack = r.stack[:n-1]
		h.pooled = false
		return h.value
	}

	h := &recyclerHandle[T]{owner: r}
	h.value = r.newFn(h)
	return h.value
}

// recycle parks v for a later get. Objects that were not issued by this recycler,
// or are already parked, are rejected.
func (r *recycler[T]) recycle(v T, h *recyclerHandle[T]) error {
	if h == nil || h.owner != r || h.value != v {
		return ErrForeignRecycle
	}
	if h.pooled {
		return fmt.Errorf("%w: object is already pooled", ErrForeignRecycle)
	}
	if len(r.stack) >= r.capacity {
		// drop it, let the GC have it
		return nil
	}

	h.pooled = true
	r.stack = append(r.stack, h)
	return nil
}

func (r *recycler[T]) size() int {
	return len(r.stack)
}
