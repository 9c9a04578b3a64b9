package services

import (
	"container/list"
	"sync"
	"time"
)

// Clock returns the current time. Injected so TTL and window logic can be
// driven by tests.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Cache is a bounded key/value store. An entry expires when it has not been
// accessed for ttl; at capacity the least recently accessed entry is evicted
// to make room for a new key.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     Clock

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

type cacheItem[V any] struct {
	key        string
	value      V
	lastAccess time.Time
}

type CacheStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// NewCache creates a cache. maxSize <= 0 disables the size bound and
// ttl <= 0 disables expiry.
func NewCache[V any](maxSize int, ttl time.Duration, clock Clock) *Cache[V] {
	return &Cache[V]{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     clock.orDefault(),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	item := elem.Value.(*cacheItem[V])
	now := c.now()
	if c.ttl > 0 && now.Sub(item.lastAccess) > c.ttl {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return zero, false
	}

	item.lastAccess = now
	c.lru.MoveToFront(elem)
	c.hits++
	return item.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*cacheItem[V])
		item.value = value
		item.lastAccess = now
		c.lru.MoveToFront(elem)
		return
	}

	if c.maxSize > 0 && c.lru.Len() >= c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}

	elem := c.lru.PushFront(&cacheItem[V]{key: key, value: value, lastAccess: now})
	c.items[key] = elem
}

func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

func (c *Cache[V]) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*cacheItem[V]).key)
}
