// Package cache is an in-memory response cache keyed by request key, with
// TTL expiry and invalidation by exact key or key pattern.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/clock"
)

// Entry holds a cached value with timing metadata.
type Entry struct {
	Key       string
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
}

// Valid reports whether the entry is still within its TTL at now.
func (e *Entry) Valid(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// Cache is a concurrency-safe key-value cache with TTL support.
// Expired entries are purged lazily on read.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	clock      clock.Clock
	maxEntries int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithMaxEntries caps the number of entries; the oldest entry is evicted
// when an insert would exceed the cap. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(cache *Cache) { cache.maxEntries = n }
}

// New creates a new cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.Valid(now) {
		return entry.Value, true
	}

	c.mu.Lock()
	// Re-check: a concurrent Set may have refreshed the key.
	if cur, ok := c.entries[key]; ok && cur == entry {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil, false
}

// Set stores a value under key for ttl, overwriting any existing entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: c.clock.Now(),
		TTL:       ttl,
	}
}

// Delete removes key. Reports whether an entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// DeletePattern removes every entry whose key m matches and returns how
// many were removed.
func (c *Cache) DeletePattern(m Matcher) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if m.Match(key) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the stored keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Cache) evictOldestLocked() {
	var oldest *Entry
	for _, e := range c.entries {
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.Key)
	}
}
