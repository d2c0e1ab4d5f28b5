// Package ratelimit implements the per-run token bucket from spec.md §4.3:
// refill rate maxRequestsPerSecond, capacity 1 for strict pacing, plus an
// optional constant delayMs applied after the token is granted. Built on
// golang.org/x/time/rate, the same token-bucket primitive
// muqo16-vg-hitbot's crawler reaches for, rather than hand-rolling a
// ticker-based limiter the way the teacher's httpclient does for its much
// simpler fixed-interval case.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces navigation attempts. A nil *rate.Limiter (unset
// maxRequestsPerSecond) makes Await an unconditional pass-through.
type Limiter struct {
	bucket *rate.Limiter
	delay  time.Duration
}

// New builds a Limiter. requestsPerSecond <= 0 disables rate limiting
// entirely (spec.md §4.3: "Unset limit = unconditional pass-through").
// delay is the additional constant spacing applied after each grant.
func New(requestsPerSecond float64, delay time.Duration) *Limiter {
	var bucket *rate.Limiter
	if requestsPerSecond > 0 {
		// Burst of 1 enforces "capacity 1 (strict pacing)": no bursting
		// ahead on accumulated tokens.
		bucket = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Limiter{bucket: bucket, delay: delay}
}

// Await blocks the caller until a token is available, then sleeps for the
// configured constant delay on top. Safe for concurrent callers: x/time's
// rate.Limiter serializes reservations internally and wakes FIFO.
func (l *Limiter) Await(ctx context.Context) error {
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			return err
		}
	}
	if l.delay > 0 {
		timer := time.NewTimer(l.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
