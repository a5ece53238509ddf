package providers

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// Calls per minute for each provider tier, before the safety margin.
var tierLimits = map[string]int{
	"free":     50,
	"basic":    200,
	"standard": 500,
	"premium":  1000,
	"vip":      2000,
}

// RateLimiterStats exposes limiter counters for observability.
type RateLimiterStats struct {
	CurrentCalls  int           `json:"current_calls"`
	MaxCalls      int           `json:"max_calls"`
	TotalWaits    int64         `json:"total_waits"`
	TotalWaitTime time.Duration `json:"total_wait_time"`
}

// RateLimiter enforces a per-window call budget for one provider. The
// effective budget is the tier limit scaled by a safety margin so the
// provider-side quota is never hit exactly.
type RateLimiter struct {
	mu            sync.Mutex
	maxCalls      int
	window        time.Duration
	windowStart   time.Time
	calls         int
	totalWaits    int64
	totalWaitTime time.Duration
}

// NewRateLimiter creates a limiter for the given tier. Unknown tiers fall
// back to the free tier.
func NewRateLimiter(tier string, safetyMargin float64) *RateLimiter {
	limit, ok := tierLimits[tier]
	if !ok {
		log.Printf("Unknown provider tier %q, using free tier limits", tier)
		limit = tierLimits["free"]
	}
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = 0.9
	}
	maxCalls := int(math.Floor(float64(limit) * safetyMargin))
	if maxCalls < 1 {
		maxCalls = 1
	}
	return &RateLimiter{
		maxCalls:    maxCalls,
		window:      time.Minute,
		windowStart: time.Now(),
	}
}

// Acquire blocks until a call slot is free in the current window, or until
// the context is canceled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		if now.Sub(r.windowStart) >= r.window {
			r.windowStart = now
			r.calls = 0
		}
		if r.calls < r.maxCalls {
			r.calls++
			r.mu.Unlock()
			return nil
		}
		wait := r.window - now.Sub(r.windowStart)
		r.totalWaits++
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		log.Printf("[RATE LIMIT] window budget of %d calls exhausted, waiting %v", r.maxCalls, wait)
		timer := time.NewTimer(wait)
		start := time.Now()
		select {
		case <-ctx.Done():
			timer.Stop()
			r.addWaitTime(time.Since(start))
			return ctx.Err()
		case <-timer.C:
			r.addWaitTime(time.Since(start))
		}
	}
}

func (r *RateLimiter) addWaitTime(d time.Duration) {
	r.mu.Lock()
	r.totalWaitTime += d
	r.mu.Unlock()
}

// Stats returns a snapshot of the limiter counters.
func (r *RateLimiter) Stats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls
	if time.Since(r.windowStart) >= r.window {
		calls = 0
	}
	return RateLimiterStats{
		CurrentCalls:  calls,
		MaxCalls:      r.maxCalls,
		TotalWaits:    r.totalWaits,
		TotalWaitTime: r.totalWaitTime,
	}
}
