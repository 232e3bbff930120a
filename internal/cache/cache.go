package cache

import "sync"

// Cache is a concurrency-safe map used to avoid repeated lookups against
// slow collaborators such as user profile services.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]V),
	}
}

// Get retrieves a value by key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Set stores a value by key
func (c *Cache[K, V]) Set(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = v
}

// GetOrSet returns the cached value for key, storing v first when absent.
// The boolean reports whether the value was already cached.
func (c *Cache[K, V]) GetOrSet(key K, v V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[key]; ok {
		return cur, true
	}
	c.items[key] = v
	return v, false
}

// Delete removes a key
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Reset clears all entries from the cache
func (c *Cache[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}
