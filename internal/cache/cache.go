// Package cache is the response cache (C3): a TTL-bounded key-to-payload
// store built on top of the KV store adapter. It is negative-result
// oblivious — callers never store an entry for a failed upstream call.
package cache

import (
	"context"
	"time"

	"github.com/hellomira/aviationstack-gateway/internal/metrics"
	"github.com/hellomira/aviationstack-gateway/internal/store"
)

// EntryStore is the subset of the KV store adapter the cache needs.
type EntryStore interface {
	CacheGet(ctx context.Context, key string) (*store.CacheDoc, error)
	CachePut(ctx context.Context, key string, payload []byte, createdAt, expiresAt time.Time) error
}

// Cache is a TTL-bounded response cache keyed by CacheKey values.
type Cache struct {
	store   EntryStore
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
}

// New builds a Cache with the given time-to-live for freshly written
// entries.
func New(st EntryStore, m *metrics.Metrics, ttl time.Duration) *Cache {
	return &Cache{store: st, metrics: m, ttl: ttl, now: time.Now}
}

// Get returns the cached payload for key, or (nil, false) on a miss or an
// expired entry. It does not trust the store's background TTL reaper —
// an entry past its expires_at is treated as absent even if it has not
// yet been physically deleted.
func (c *Cache) Get(ctx context.Context, endpoint, key string) ([]byte, bool, error) {
	doc, err := c.store.CacheGet(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if doc == nil || !doc.ExpiresAt.After(c.now()) {
		c.metrics.CacheMisses.WithLabelValues(endpoint).Inc()
		return nil, false, nil
	}
	c.metrics.CacheHits.WithLabelValues(endpoint).Inc()
	return doc.Data, true, nil
}

// Put stores payload under key with the cache's configured TTL. Callers
// must only invoke Put after a successful upstream call — failures are
// never cached.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	now := c.now()
	return c.store.CachePut(ctx, key, payload, now, now.Add(c.ttl))
}
