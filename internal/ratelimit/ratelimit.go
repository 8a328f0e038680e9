// Package ratelimit applies per-member sliding window limits to the payment
// routes. Redis is the primary store; an in-memory window takes over while
// the circuit around redis is open.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"circlesphere/pkg/platform/circuit"
)

// Result is the outcome of one limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a slot frees up. Zero when allowed.
	RetryAfter int
}

// Store counts requests per key within a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Limiter checks keys against one limit, falling back to an in-memory store
// when the primary keeps failing.
type Limiter struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
}

// New returns a limiter. primary may be nil to use only process memory.
func New(primary Store, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	fallback := NewMemoryStore()
	if primary == nil {
		primary = fallback
	}
	return &Limiter{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("ratelimit"),
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

// Check consumes one request for key. degraded is true when the answer came
// from the fallback store.
func (l *Limiter) Check(ctx context.Context, key string) (res *Result, degraded bool, err error) {
	res, err = l.primary.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		useFallback, change := l.breaker.RecordFailure()
		if change.Opened {
			l.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback", "error", err)
		}
		if !useFallback {
			return nil, false, err
		}
		res, err = l.fallback.Allow(ctx, key, l.limit, l.window)
		return res, true, err
	}

	usePrimary, change := l.breaker.RecordSuccess()
	if change.Closed {
		l.logger.InfoContext(ctx, "rate limit store recovered")
	}
	if !usePrimary {
		// Keep the fallback window warm until the circuit closes.
		res, err = l.fallback.Allow(ctx, key, l.limit, l.window)
		return res, true, err
	}
	return res, false, nil
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
