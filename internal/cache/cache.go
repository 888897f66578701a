// Package cache provides a generic in-memory TTL cache for reportd.
// It backs the slow-changing lookups the public pages render on every
// request, such as the unit list of the feed filter bar.
//
// Not intended for identities or sessions; those are resolved per request.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultTTL is the default time-to-live for cache entries.
const DefaultTTL = 30 * time.Second

// DefaultMaxEntries is the default maximum number of cache entries.
const DefaultMaxEntries = 1000

// Options configures a Cache instance.
type Options struct {
	// TTL is the time-to-live for each entry. Zero uses DefaultTTL.
	TTL time.Duration

	// MaxEntries bounds the cache size. Zero uses DefaultMaxEntries.
	MaxEntries int

	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// call is a load in progress shared by concurrent GetOrLoad callers.
type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is a generic in-memory cache with TTL expiration and a size bound.
// When full, expired entries are dropped first, then the oldest insertion.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*list.Element
	order      *list.List // front = oldest insertion
	inflight   map[K]*call[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a Cache with the given options.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[K, V]{
		items:      make(map[K]*list.Element),
		order:      list.New(),
		inflight:   make(map[K]*call[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[K, V]) getLocked(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if !c.now().Before(e.expiresAt) {
		c.removeElementLocked(el)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set adds or replaces the entry for key, resetting its TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.expiresAt = value, expiresAt
		return
	}
	if len(c.items) >= c.maxEntries {
		c.cleanExpiredLocked()
	}
	if len(c.items) >= c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElementLocked(oldest)
		}
	}
	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for the same key share one load. Errors are returned
// to every waiter and not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.value, inflight.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	cl := &call[V]{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = load(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if cl.err == nil {
		c.setLocked(key, cl.value)
	}
	c.mu.Unlock()
	close(cl.done)

	return cl.value, cl.err
}

// Delete removes the entry for key. No-op if absent.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElementLocked(el)
	}
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of entries, including expired ones not yet dropped.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// TTL returns the configured time-to-live.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Caller must hold c.mu.
func (c *Cache[K, V]) removeElementLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}

// Caller must hold c.mu.
func (c *Cache[K, V]) cleanExpiredLocked() {
	now := c.now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry[K, V]).expiresAt) {
			c.removeElementLocked(el)
		}
		el = next
	}
}
