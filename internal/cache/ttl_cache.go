package cache

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/shopassist/internal/clock"
)

// Cache is a thread-safe keyed store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	clock      clock.Clock
	maxEntries int
}

type Option func(*options)

type options struct {
	clock      clock.Clock
	maxEntries int
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMaxEntries bounds the cache; inserting into a full cache first drops
// expired entries and then an arbitrary live one.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

func NewTTLCache[K comparable, V any](opts ...Option) *TTLCache[K, V] {
	o := options{clock: clock.NewSystem(), maxEntries: 10_000}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[K, V]{
		entries:    make(map[K]entry[V]),
		clock:      o.clock,
		maxEntries: o.maxEntries,
	}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes the key instead.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DeleteExpired drops expired entries and returns how many were removed.
func (c *TTLCache[K, V]) DeleteExpired() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (c *TTLCache[K, V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.DeleteExpired()
		}
	}
}

func (c *TTLCache[K, V]) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

var _ Cache[string, int] = (*TTLCache[string, int])(nil)
