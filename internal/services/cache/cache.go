// Package cache provides an in-memory TTL cache with stale-while-revalidate
// semantics for assembled search responses.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL applies when Config.TTL is unset.
const DefaultTTL = 5 * time.Minute

// Entry is one cached value.
type Entry[T any] struct {
	Key       string
	Value     T
	CreatedAt time.Time
	TTL       time.Duration
	Hits      int
}

// Age returns how long ago the entry was created.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IsExpired reports whether the entry is past its TTL.
func (e Entry[T]) IsExpired(now time.Time) bool {
	return e.Age(now) > e.TTL
}

// IsStale reports whether the entry is past its TTL but still servable
// (no older than twice the TTL).
func (e Entry[T]) IsStale(now time.Time) bool {
	age := e.Age(now)
	return age > e.TTL && age <= 2*e.TTL
}

// isDead reports whether the entry must be purged.
func (e Entry[T]) isDead(now time.Time) bool {
	return e.Age(now) > 2*e.TTL
}

// Config configures a Cache.
type Config struct {
	// MaxSize bounds the number of entries. Zero or less means 1.
	MaxSize int
	// TTL is the default entry lifetime (DefaultTTL when unset).
	TTL time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// OnEvict is called, under the cache lock, when a full cache drops its
	// oldest entry to make room.
	OnEvict func(key string)
}

// Cache is a size-bounded TTL cache. A single mutex guards the map; all
// critical sections are short and never wait on anything else.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	onEvict func(key string)
}

// New creates a cache from cfg.
func New[T any](cfg Config) *Cache[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache[T]{
		entries: make(map[string]*Entry[T]),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		onEvict: cfg.OnEvict,
	}
}

// Get returns a copy of the entry for key. Entries older than twice their
// TTL are purged and reported absent; callers check IsStale on the result.
func (c *Cache[T]) Get(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	if e.isDead(c.now()) {
		delete(c.entries, key)
		return Entry[T]{}, false
	}
	e.Hits++
	return *e, true
}

// Set stores value under key with the default TTL.
func (c *Cache[T]) Set(key string, value T) Entry[T] {
	return c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key. Inserting a new key into a full cache
// first evicts the entry with the oldest creation time.
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &Entry[T]{
		Key:       key,
		Value:     value,
		CreatedAt: c.now(),
		TTL:       ttl,
	}
	c.entries[key] = e
	return *e
}

// evictOldest drops the entry with the earliest CreatedAt (must be called
// with mutex held). Ties go to the smaller key.
func (c *Cache[T]) evictOldest() {
	var oldest *Entry[T]
	for _, e := range c.entries {
		if oldest == nil ||
			e.CreatedAt.Before(oldest.CreatedAt) ||
			(e.CreatedAt.Equal(oldest.CreatedAt) && e.Key < oldest.Key) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	delete(c.entries, oldest.Key)
	if c.onEvict != nil {
		c.onEvict(oldest.Key)
	}
}

// Invalidate removes key. Returns true if it was present.
func (c *Cache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear removes every entry and returns how many there were.
func (c *Cache[T]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry[T])
	return n
}

// Purge removes every entry older than twice its TTL and returns the count.
func (c *Cache[T]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.isDead(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including stale ones.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured bound.
func (c *Cache[T]) MaxSize() int {
	return c.maxSize
}
