package engine

import (
	"sync"
	"time"
)

const dedupeCompactAt = 10000

// DedupeCache remembers when each key was last seen.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within ttl of now, and records it otherwise.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
