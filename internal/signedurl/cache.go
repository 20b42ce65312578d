// Package signedurl caches time-limited object URLs per process.
package signedurl

import (
	"context"
	"sync"
	"time"

	"genstudio/internal/storage"
)

type key struct {
	bucket string
	path   string
}

type entry struct {
	url      string
	expireAt time.Time
}

// Options configures a Cache.
type Options struct {
	// TTL is the lifetime requested from the signer.
	TTL time.Duration
	// SafetyMargin is subtracted from the real expiry so a cached URL is never
	// handed out moments before it stops working.
	SafetyMargin time.Duration
	Now          func() time.Time
}

// Cache is advisory: a miss, or any signer error, simply falls through to
// the signer on the next call.
type Cache struct {
	signer storage.Signer
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[key]entry
}

// New constructs a cache in front of signer.
func New(signer storage.Signer, opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	margin := opts.SafetyMargin
	if margin < 0 || margin >= ttl {
		margin = ttl / 10
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{signer: signer, ttl: ttl, margin: margin, now: now, entries: map[key]entry{}}
}

// URL returns a signed URL for bucket/path, reusing a cached one while it is
// still valid for at least SafetyMargin.
func (c *Cache) URL(ctx context.Context, bucket, path string) (string, error) {
	k := key{bucket: bucket, path: path}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[k]; ok && now.Before(e.expireAt) {
		c.mu.Unlock()
		return e.url, nil
	}
	c.mu.Unlock()

	u, expires, err := c.signer.SignedURL(ctx, bucket, path, c.ttl)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[k] = entry{url: u, expireAt: expires.Add(-c.margin)}
	c.mu.Unlock()
	return u, nil
}

// Invalidate drops the cached URL for bucket/path.
func (c *Cache) Invalidate(bucket, path string) {
	c.mu.Lock()
	delete(c.entries, key{bucket: bucket, path: path})
	c.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expireAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
