// Package ratelimit gives every poller process, across a horizontally
// scaled deployment, one shared call-rate ceiling per PSP, so N worker
// processes polling the same credential don't multiply the effective call
// rate by N. With no Redis address configured it degrades to a no-op
// pass-through and changes no poller behavior.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate throttles calls to a single provider to at most N per second,
// shared across every process pointed at the same Redis instance.
type Gate struct {
	client      *redis.Client
	perSecond   int
	keyPrefix   string
}

// NewGate builds a Gate. addr == "" returns a Gate whose Allow always
// succeeds immediately, the no-Redis-configured default.
func NewGate(addr string, perSecond int) *Gate {
	if addr == "" || perSecond <= 0 {
		return &Gate{}
	}
	return &Gate{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		perSecond: perSecond,
		keyPrefix: "reconcile:ratelimit:",
	}
}

// Allow blocks until the provider's shared per-second budget has room for
// one more call, or ctx is done. A fixed one-second window is implemented
// with INCR + EXPIRE on a key bucketed by wall-clock second;
// this is deliberately coarse; the core only needs an approximate shared
// ceiling, not a precise token bucket.
func (g *Gate) Allow(ctx context.Context, provider string) error {
	if g.client == nil {
		return nil
	}
	for {
		bucket := time.Now().Unix()
		key := fmt.Sprintf("%s%s:%d", g.keyPrefix, provider, bucket)

		n, err := g.client.Incr(ctx, key).Result()
		if err != nil {
			// Redis being unavailable must never block reconciliation;
			// fail open.
			return nil
		}
		if n == 1 {
			g.client.Expire(ctx, key, 2*time.Second)
		}
		if int(n) <= g.perSecond {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Close releases the underlying Redis client, if any.
func (g *Gate) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
