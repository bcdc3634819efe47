package core

import (
	"container/list"
	"sync"
)

// IdempotencyCache remembers recently seen operation keys so redelivered
// bus messages do not trigger a second engine call. Bounded LRU; eviction
// of old keys is acceptable because redelivery windows are short.
type IdempotencyCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

func NewIdempotencyCache(capacity int) *IdempotencyCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &IdempotencyCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Seen records key and reports whether it was already present.
func (c *IdempotencyCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return true
	}

	c.entries[key] = c.order.PushFront(key)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	return false
}

// Len returns the number of cached keys.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
