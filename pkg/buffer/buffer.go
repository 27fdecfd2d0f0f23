// Package buffer provides a bounded, thread-safe circular buffer used as the
// ingest queue between transports and the read model store. Overflow behavior
// is configurable so slow consumers shed load instead of growing unbounded.
package buffer

import (
	"sync"

	"github.com/c360/devicewatch/errors"
)

// OverflowPolicy determines what happens when a write hits a full buffer.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item and keeps the buffer unchanged
	DropNewest
)

// Option configures a CircularBuffer.
type Option[T any] func(*CircularBuffer[T])

// WithOverflowPolicy sets the overflow policy (default DropOldest).
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(cb *CircularBuffer[T]) {
		cb.policy = policy
	}
}

// WithDropCallback registers a callback invoked with every dropped item.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(cb *CircularBuffer[T]) {
		cb.dropCallback = fn
	}
}

// CircularBuffer is a thread-safe fixed-capacity FIFO queue.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	policy       OverflowPolicy
	dropCallback func(T)

	writes   uint64
	reads    uint64
	dropped  uint64
	overflow uint64
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (*CircularBuffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "buffer", "NewCircularBuffer", "capacity must be positive")
	}

	cb := &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   DropOldest,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *CircularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.overflow++
		cb.dropped++
		switch cb.policy {
		case DropOldest:
			droppedItem := cb.items[cb.tail]
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			if cb.dropCallback != nil {
				// Call outside the lock to avoid deadlock
				defer cb.dropCallback(droppedItem)
			}
		case DropNewest:
			if cb.dropCallback != nil {
				defer cb.dropCallback(item)
			}
			return nil
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.writes++
	return nil
}

// Read retrieves and removes one item from the buffer.
func (cb *CircularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	cb.reads++
	return item, true
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *CircularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	readCount := max
	if readCount > cb.size {
		readCount = cb.size
	}

	result := make([]T, readCount)
	var zero T
	for i := 0; i < readCount; i++ {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		cb.reads++
	}
	return result
}

// Size returns the current number of items in the buffer.
func (cb *CircularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *CircularBuffer[T]) Capacity() int {
	return cb.capacity // immutable, no lock needed
}

// Dropped returns the total number of items discarded by overflow.
func (cb *CircularBuffer[T]) Dropped() uint64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.dropped
}

// Close shuts down the buffer. Subsequent writes fail; reads drain what remains.
func (cb *CircularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
