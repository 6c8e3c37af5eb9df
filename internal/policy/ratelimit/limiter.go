// Package ratelimit spaces worker dispatches with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config holds throttle configuration.
type Config struct {
	// Delay is the minimum spacing between dispatches. Zero disables throttling.
	Delay time.Duration
	// OnDelay, if set, receives every non-trivial wait.
	OnDelay func(time.Duration)
}

// Limiter is a global dispatch throttle with burst 1, so consecutive Wait
// calls return at least Delay apart.
type Limiter struct {
	limiter *rate.Limiter
	onDelay func(time.Duration)
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		onDelay: cfg.OnDelay,
	}
}

// Wait blocks until the next dispatch may start or ctx is done. It returns how
// long it waited.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	waited := time.Since(start)
	if waited > time.Millisecond && l.onDelay != nil {
		l.onDelay(waited)
	}
	return waited, nil
}
