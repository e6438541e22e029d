// Package cache provides small in-memory caches.
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

// DefaultMaxSize bounds a DedupeCache when no size is configured.
const DefaultMaxSize = 1000

// DedupeCache remembers recently seen keys, evicting the least recently
// seen once MaxSize is exceeded. Entries older than TTL are forgotten; a
// zero TTL keeps entries until they are evicted.
type DedupeCache struct {
	mu      sync.Mutex
	order   *list.List // front is most recent
	entries map[string]*list.Element
	ttl     time.Duration
	maxSize int
}

type dedupeEntry struct {
	key  string
	seen time.Time
}

// DedupeCacheOptions configures the cache.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache creates a cache.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	return &DedupeCache{
		order:   list.New(),
		entries: make(map[string]*list.Element),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
	}
}

// Check reports whether key was already seen and records it as seen now.
func (c *DedupeCache) Check(key string) bool {
	return c.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit time.
func (c *DedupeCache) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*dedupeEntry)
		duplicate := c.fresh(entry, now)
		entry.seen = now
		c.order.MoveToFront(el)
		return duplicate
	}

	c.entries[key] = c.order.PushFront(&dedupeEntry{key: key, seen: now})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
	return false
}

func (c *DedupeCache) fresh(entry *dedupeEntry, now time.Time) bool {
	return c.ttl <= 0 || now.Sub(entry.seen) < c.ttl
}

func (c *DedupeCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*dedupeEntry).key)
}

// Contains reports whether key is known, without touching it.
func (c *DedupeCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	return ok && c.fresh(el.Value.(*dedupeEntry), time.Now())
}

// Size returns the number of remembered keys.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear forgets every key.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// UpdateKey builds the key for a platform update id.
func UpdateKey(updateID int64) string {
	return strconv.FormatInt(updateID, 10)
}
