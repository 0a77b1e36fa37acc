package bus

import (
	"sync"
	"time"
)

// DedupeCache suppresses redelivered platform messages by id within a
// TTL window. Entries past the cap evict oldest-first.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	order   []string
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewDedupeCache creates a cache. Defaults: 20 minute TTL, 5000 entries.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &DedupeCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether id was already recorded within the TTL, recording
// it either way.
func (c *DedupeCache) Seen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	at, ok := c.seen[id]
	if ok && now.Sub(at) < c.ttl {
		return true
	}

	if !ok {
		c.order = append(c.order, id)
	}
	c.seen[id] = now
	c.pruneLocked(now)
	return false
}

// Len returns the live entry count.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *DedupeCache) pruneLocked(now time.Time) {
	// Drop expired ids from the front, then enforce the cap.
	keep := c.order[:0]
	for _, id := range c.order {
		at, ok := c.seen[id]
		if !ok {
			continue
		}
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
			continue
		}
		keep = append(keep, id)
	}
	c.order = keep

	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
}
