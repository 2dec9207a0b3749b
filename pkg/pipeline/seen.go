package pipeline

import (
	"sync"
	"time"
)

const defaultSeenCapacity = 10000

type seenEntry struct {
	at   time.Time
	slot int
}

// SeenCache remembers event ids for a TTL so the same mention delivered by
// several relays is processed once. Capacity bounds memory: the oldest id
// is forgotten when the ring wraps. A nil *SeenCache never reports a hit.
type SeenCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]seenEntry
	ring    []string
	next    int
}

// NewSeenCache returns nil when ttl is not positive, which disables
// deduplication.
func NewSeenCache(ttl time.Duration, capacity int) *SeenCache {
	if ttl <= 0 {
		return nil
	}
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &SeenCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]seenEntry, capacity),
		ring:    make([]string, capacity),
	}
}

// CheckAndMark reports whether id was marked within the TTL and marks it
// if it was not.
func (c *SeenCache) CheckAndMark(id string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[id]; ok && now.Sub(e.at) < c.ttl {
		return true
	}

	if old := c.ring[c.next]; old != "" {
		if e, ok := c.entries[old]; ok && e.slot == c.next {
			delete(c.entries, old)
		}
	}
	c.ring[c.next] = id
	c.entries[id] = seenEntry{at: now, slot: c.next}
	c.next = (c.next + 1) % len(c.ring)
	return false
}

func (c *SeenCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
