package webhook

import (
	"sync"
	"time"
)

// replayCache remembers delivery ids for a window so that redelivered
// webhooks are acknowledged without being dispatched twice.
// Expired ids are swept at most once per sweep interval; lookups check
// expiry themselves.
type replayCache struct {
	mu        sync.Mutex
	window    time.Duration
	sweep     time.Duration
	lastSweep time.Time
	seen      map[string]time.Time
	now       func() time.Time
}

const maxSweepInterval = time.Minute

func newReplayCache(window time.Duration) *replayCache {
	sweep := window
	if sweep > maxSweepInterval {
		sweep = maxSweepInterval
	}
	return &replayCache{
		window: window,
		sweep:  sweep,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// claim records id and reports whether it was new. An empty id or a
// disabled cache always claims.
func (c *replayCache) claim(id string) bool {
	if c == nil || c.window <= 0 || id == "" {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= c.sweep {
		c.evict(now)
	}
	if at, ok := c.seen[id]; ok && now.Sub(at) <= c.window {
		return false
	}
	c.seen[id] = now
	return true
}

func (c *replayCache) evict(now time.Time) {
	for key, at := range c.seen {
		if now.Sub(at) > c.window {
			delete(c.seen, key)
		}
	}
	c.lastSweep = now
}

// release forgets id so a retried delivery is processed again.
func (c *replayCache) release(id string) {
	if c == nil || id == "" {
		return
	}
	c.mu.Lock()
	delete(c.seen, id)
	c.mu.Unlock()
}
