// Package ratelimit provides the limiter shared by every worker calling the
// extraction capability.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits or rejects one call. A rejection carries a hint of how long
// to wait before trying again; the caller owns the backoff policy.
type Limiter interface {
	Allow(ctx context.Context) (ok bool, retryAfter time.Duration, err error)
}

// TokenBucket is an in-process token bucket.
type TokenBucket struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// NewTokenBucket allows ratePerSecond calls on average with bursts of burst.
func NewTokenBucket(ratePerSecond float64, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &TokenBucket{lim: rate.NewLimiter(limit, burst)}
}

// Allow takes a token if one is available.
func (b *TokenBucket) Allow(_ context.Context) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.lim.Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context) (bool, time.Duration, error) { return true, 0, nil }
