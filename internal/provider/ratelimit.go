package provider

import (
	"sync"
	"time"
)

// tokenBucket is a token-bucket limiter for a single provider.
type tokenBucket struct {
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
}

func (tb *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	if tb.tokens < 1.0 {
		return false
	}
	tb.tokens -= 1.0
	return true
}

// Limit is a per-provider request rate. A zero Rate means unlimited.
type Limit struct {
	Rate  float64
	Burst int
}

// RateLimiter enforces per-provider token-bucket limits. A provider that is
// over its limit is skipped for that call; it is not a failure.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

// NewRateLimiter builds a limiter from per-provider limits. Providers that
// are absent or have a zero rate are never limited.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket, len(limits)),
		now:     time.Now,
	}
	start := rl.now()
	for name, l := range limits {
		if l.Rate <= 0 {
			continue
		}
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		rl.buckets[name] = &tokenBucket{
			rate:       l.Rate,
			burst:      burst,
			tokens:     float64(burst),
			lastRefill: start,
		}
	}
	return rl
}

// Allow consumes one token for the provider and reports whether the call
// may proceed. A nil limiter allows everything.
func (rl *RateLimiter) Allow(name string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tb, ok := rl.buckets[name]
	if !ok {
		return true
	}
	return tb.allow(rl.now())
}
