// Package cache holds the identity cache: a size-weighted LRU store with
// optional per-entry expiry, shared by every memoized identity lookup.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry weights. Session entries are listed for completeness; the presence
// registry keeps them in a store that is never evicted.
const (
	SizeToken            int64 = 4
	SizeUser             int64 = 4
	SizeListeningUsers   int64 = 7000
	SizeActiveConnection int64 = 1
)

// Options describe how a single entry is stored.
type Options struct {
	// Size is the entry's weight against the cache limit. Zero means 1.
	Size int64
	// TTL is the time after which the entry is treated as absent. Zero disables expiry.
	TTL time.Duration
	// Pinned entries are never evicted to make room.
	Pinned bool
}

type entry struct {
	key       string
	value     any
	size      int64
	expiresAt time.Time
	pinned    bool
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

// Cache is safe for concurrent use one call at a time. Read-then-write
// sequences spanning several calls need an external critical section.
type Cache struct {
	limit  int64
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	used  int64
	ll    *list.List
	items map[string]*list.Element
	stats Stats
}

type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) { c.logger = logger.With().Str("component", "IdentityCache").Logger() }
}

func New(limit int64, opts ...Option) (*Cache, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("cache size limit must be greater than 0")
	}
	c := &Cache{
		limit:  limit,
		now:    time.Now,
		logger: zerolog.Nop(),
		ll:     list.New(),
		items:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (any, bool) {
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if e.expired(c.now()) {
		c.removeElement(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.ll.MoveToFront(elem)
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key and reports whether it was kept. An entry
// heavier than the whole limit is refused.
func (c *Cache) Set(key string, value any, opts Options) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(key, value, opts)
}

func (c *Cache) setLocked(key string, value any, opts Options) bool {
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	if size > c.limit {
		c.logger.Warn().Str("key", key).Int64("size", size).Int64("limit", c.limit).Msg("Entry exceeds cache limit, not stored.")
		return false
	}

	e := &entry{key: key, value: value, size: size, pinned: opts.Pinned}
	if opts.TTL > 0 {
		e.expiresAt = c.now().Add(opts.TTL)
	}
	if !c.makeRoom(size) {
		c.logger.Warn().Str("key", key).Msg("No evictable entries left, not stored.")
		return false
	}
	c.items[key] = c.ll.PushFront(e)
	c.used += size
	return true
}

// GetOrCreate returns the live value under key, or stores and returns the
// result of factory. The factory runs with the cache locked and must not
// call back into the cache.
func (c *Cache) GetOrCreate(key string, opts Options, factory func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value, ok := c.getLocked(key); ok {
		return value
	}
	value := factory()
	c.setLocked(key, value, opts)
	return value
}

func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Size is the summed weight of stored entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// makeRoom drops expired entries, then least recently used unpinned
// entries, until size more fits under the limit.
func (c *Cache) makeRoom(size int64) bool {
	if c.used+size <= c.limit {
		return true
	}
	now := c.now()
	for elem := c.ll.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).expired(now) {
			c.removeElement(elem)
			c.stats.Expired++
		}
		elem = prev
	}
	for elem := c.ll.Back(); elem != nil && c.used+size > c.limit; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if !e.pinned {
			c.removeElement(elem)
			c.stats.Evictions++
			c.logger.Debug().Str("key", e.key).Msg("Evicted cache entry.")
		}
		elem = prev
	}
	return c.used+size <= c.limit
}

func (c *Cache) removeElement(elem *list.Element) {
	e := c.ll.Remove(elem).(*entry)
	delete(c.items, e.key)
	c.used -= e.size
}

// Lookup is a typed Get. A stored value of another type counts as a miss.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	value, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
