package database

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LRUCache is a bounded key-value cache with least-recently-used eviction
// and hit/miss accounting. Keys are strings so Invalidate can match on
// substrings; values are generic.
//
// A coarse mutex guards the map and recency list. Get and Put are safe for
// concurrent use from multiple goroutines.
type LRUCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// CacheStats is a snapshot of cache effectiveness counters.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64 // percentage, 0-100
}

func (s CacheStats) String() string {
	return fmt.Sprintf("size=%d/%d hits=%d misses=%d hit_rate=%.2f%%",
		s.Size, s.MaxSize, s.Hits, s.Misses, s.HitRate)
}

// NewLRUCache creates a cache holding at most maxSize entries. A ttl of zero
// disables time-based expiry; otherwise entries older than ttl are treated
// as absent and removed lazily on Get.
func NewLRUCache[V any](maxSize int, ttl time.Duration) *LRUCache[V] {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &LRUCache[V]{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached value and marks the key most-recently-used. The
// second return value distinguishes a miss from a cached zero value.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*lruEntry[V])
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Put inserts or updates a key, bumping it to most-recently-used. Inserting
// beyond capacity evicts the least-recently-used entry first.
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry[V])
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &lruEntry[V]{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[key] = c.order.PushFront(entry)
}

// Invalidate removes every key containing pattern. An empty pattern clears
// the whole cache and resets the counters.
func (c *LRUCache[V]) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		removed := c.order.Len()
		c.entries = make(map[string]*list.Element, c.maxSize)
		c.order.Init()
		c.hits = 0
		c.misses = 0
		return removed
	}

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if strings.Contains(elem.Value.(*lruEntry[V]).key, pattern) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Len returns the current number of entries.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of size and hit/miss counters.
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// evictOldest removes the least-recently-used entry. Caller holds the lock.
func (c *LRUCache[V]) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement unlinks an entry. Caller holds the lock.
func (c *LRUCache[V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry[V]).key)
}
