// Package buffer holds the bounded local history of page views and events.
package buffer

import "sync"

// RingBuffer is a bounded, thread-safe FIFO. When full, the oldest entries are
// dropped to make room for new ones.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity. A non-positive
// capacity is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an item, dropping the oldest if necessary. Returns true when an
// item was evicted.
func (b *RingBuffer[T]) Enqueue(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if b.count >= b.capacity {
		var zero T
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		evicted = true
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.count++
	return evicted
}

// DequeueBatch removes up to n items, oldest first.
func (b *RingBuffer[T]) DequeueBatch(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Snapshot copies the contents, oldest first, without removing them.
func (b *RingBuffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.items[(b.tail+i)%b.capacity]
	}
	return result
}

// Len returns the current number of items.
func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity.
func (b *RingBuffer[T]) Cap() int {
	return b.capacity
}

// Dropped returns the total number of evicted items.
func (b *RingBuffer[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
