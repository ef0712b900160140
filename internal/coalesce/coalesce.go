// Package coalesce is the single-flight request coalescer (C4): it
// collapses concurrent inbound requests for the same cache key so that
// only one of them actually invokes the upstream call while the rest
// await its result.
package coalesce

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescer deduplicates concurrent calls sharing the same key.
type Coalescer struct {
	group singleflight.Group

	// mu guards leading, which tracks which keys currently have a caller
	// leading the underlying singleflight call. singleflight's own
	// Result.Shared is true for every waiter once at least one follower
	// joins — including the leader itself — so it cannot tell a leader from
	// a follower. leading lets Execute report that distinction directly.
	mu      sync.Mutex
	leading map[string]struct{}
}

// New builds an empty Coalescer.
func New() *Coalescer {
	return &Coalescer{leading: make(map[string]struct{})}
}

// Execute runs fn on behalf of key, or waits for an already in-flight call
// for the same key to settle and returns its result. coalesced reports
// whether this particular call joined an already in-flight call rather
// than leading it — true for followers only, never for the leader, so N
// simultaneous identical calls report exactly N-1 coalesced calls.
//
// It uses DoChan rather than Do so that a caller whose context is
// cancelled can stop waiting without disturbing the leader: the leader
// goroutine keeps running fn to completion and publishes the result for
// any other waiters regardless of what happens to this call's context.
func (c *Coalescer) Execute(ctx context.Context, key string, fn func() (any, error)) (val any, coalesced bool, err error) {
	c.mu.Lock()
	_, alreadyLeading := c.leading[key]
	if !alreadyLeading {
		c.leading[key] = struct{}{}
	}
	c.mu.Unlock()

	isFollower := alreadyLeading

	ch := c.group.DoChan(key, func() (any, error) {
		defer func() {
			c.mu.Lock()
			delete(c.leading, key)
			c.mu.Unlock()
		}()
		return fn()
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, isFollower, res.Err
	}
}
