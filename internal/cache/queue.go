package cache

import "sync"

// QueueCache holds at most maxSize items, evicting the oldest on overflow.
//
// Thread Safety: all methods are safe for concurrent use.
type QueueCache[T any] struct {
	mu      sync.RWMutex
	items   []T
	maxSize int
}

// NewQueueCache creates a cache holding at most maxSize items.
// A maxSize below 1 is treated as 1.
func NewQueueCache[T any](maxSize int) *QueueCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &QueueCache[T]{
		items:   make([]T, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends item, evicting the oldest entries while the cache is over capacity.
func (c *QueueCache[T]) Add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, item)
	if over := len(c.items) - c.maxSize; over > 0 {
		var zero T
		for i := 0; i < over; i++ {
			c.items[i] = zero
		}
		c.items = append(c.items[:0], c.items[over:]...)
	}
}

// Get returns a copy of every cached item, oldest first.
func (c *QueueCache[T]) Get() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Page returns up to limit items starting at offset.
// An offset below zero or past the end, or a limit below one, yields an empty slice.
func (c *QueueCache[T]) Page(offset, limit int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if offset < 0 || limit < 1 || offset > len(c.items) {
		return []T{}
	}
	end := min(offset+limit, len(c.items))

	out := make([]T, end-offset)
	copy(out, c.items[offset:end])
	return out
}

// Last returns the newest n items, oldest first.
func (c *QueueCache[T]) Last(n int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n < 1 {
		return []T{}
	}
	start := max(len(c.items)-n, 0)

	out := make([]T, len(c.items)-start)
	copy(out, c.items[start:])
	return out
}

// Latest returns the newest item, if any.
func (c *QueueCache[T]) Latest() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	return c.items[len(c.items)-1], true
}

// Len returns the number of cached items.
func (c *QueueCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Capacity returns the maximum number of items.
func (c *QueueCache[T]) Capacity() int {
	return c.maxSize
}

// Clear removes every item.
func (c *QueueCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make([]T, 0, c.maxSize)
}
