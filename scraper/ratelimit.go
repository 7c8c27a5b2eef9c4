package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum delay between consecutive requests within a
// single scrape session. One limiter per session; it is not shared across
// sources and makes no fairness guarantees for concurrent callers.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(minDelay time.Duration) *RateLimiter {
	if minDelay <= 0 {
		minDelay = time.Millisecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(minDelay), 1),
	}
}

// Wait blocks until at least the configured delay has elapsed since the last
// permitted action, then records the new timestamp.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
