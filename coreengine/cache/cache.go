// Package cache provides a small in-process TTL cache for profile lookups
// and other hot reads.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/observability"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a mutex-guarded map with per-entry expiry. Expired entries are
// treated as absent on read and reclaimed lazily or by Sweep.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or false when absent or expired.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		observability.RecordCacheAccess("miss")
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		observability.RecordCacheAccess("expired")
		return nil, false
	}
	observability.RecordCacheAccess("hit")
	return e.value, true
}

// Set stores value under key with the cache TTL.
func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes one key.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Sweep removes expired entries and reports how many were reclaimed. Run
// periodically so abandoned keys do not accumulate.
func (c *TTLCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reclaimed := 0
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			reclaimed++
		}
	}
	return reclaimed
}

// CommandHandler returns a bus handler for InvalidateCache commands. A nil
// key clears the whole cache.
func (c *TTLCache) CommandHandler() commbus.HandlerFunc {
	return func(ctx context.Context, msg commbus.Message) (any, error) {
		cmd, ok := msg.(*commbus.InvalidateCache)
		if !ok {
			return nil, fmt.Errorf("unexpected message type %s", commbus.GetMessageType(msg))
		}
		if cmd.Key == nil {
			c.Clear()
			return nil, nil
		}
		c.Invalidate(*cmd.Key)
		return nil, nil
	}
}

// Len reports the number of entries, including not yet reclaimed expired
// ones.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
