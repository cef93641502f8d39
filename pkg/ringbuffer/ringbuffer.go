// Package ringbuffer contains a bounded FIFO that decouples a producer from a consumer.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a bounded FIFO queue.
// Push never blocks, Pull blocks until an item is available or the buffer is closed.
type RingBuffer[T any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	items  []T
	mask   uint64
	read   uint64
	write  uint64
	closed bool
}

// New allocates a RingBuffer. size must be a power of two.
func New[T any](size uint64) (*RingBuffer[T], error) {
	if size == 0 || (size&(size-1)) != 0 {
		return nil, fmt.Errorf("size must be a power of two")
	}

	r := &RingBuffer[T]{
		items: make([]T, size),
		mask:  size - 1,
	}
	r.cond = sync.NewCond(&r.mutex)
	return r, nil
}

// Close makes Pull return false once the buffer is drained.
func (r *RingBuffer[T]) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()
	r.cond.Broadcast()
}

// Reset empties the buffer and reopens it.
func (r *RingBuffer[T]) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.read = 0
	r.write = 0
	r.closed = false
}

// Push appends an item. It returns false when the buffer is full or closed.
func (r *RingBuffer[T]) Push(v T) bool {
	r.mutex.Lock()

	if r.closed || (r.write-r.read) > r.mask {
		r.mutex.Unlock()
		return false
	}

	r.items[r.write&r.mask] = v
	r.write++
	r.mutex.Unlock()

	r.cond.Signal()
	return true
}

// Pull removes the oldest item.
// It returns false when the buffer has been closed.
func (r *RingBuffer[T]) Pull() (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.read == r.write && !r.closed {
		r.cond.Wait()
	}

	var zero T

	if r.closed {
		return zero, false
	}

	v := r.items[r.read&r.mask]
	r.items[r.read&r.mask] = zero
	r.read++
	return v, true
}

// Len returns the number of queued items.
func (r *RingBuffer[T]) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return int(r.write - r.read)
}
