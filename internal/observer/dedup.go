package observer

import (
	"sync"
	"time"
)

// Deduper remembers keys for a TTL so a terminal event observed twice, by a
// push and a poll racing each other, is emitted once. Sessions may share one.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewDeduper returns a Deduper whose keys expire after ttl.
func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Deduper{ttl: ttl, seen: map[string]time.Time{}, now: time.Now}
}

// First reports whether key has not been seen within the TTL and records it.
func (d *Deduper) First(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	return true
}
