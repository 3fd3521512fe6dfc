package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a community has exhausted its call budget.
var ErrRateLimited = errors.New("rate limited")

// RateLimiterConfig defines per-community rate limit settings for outbound
// platform calls. A zero CallsPerSecond disables limiting.
type RateLimiterConfig struct {
	CallsPerSecond int
	BurstSize      int
}

// RateLimiter implements token bucket rate limiting per community.
type RateLimiter struct {
	mu       sync.RWMutex
	defaults RateLimiterConfig
	buckets  map[string]*tokenBucket
}

// NewRateLimiter creates a rate limiter that builds buckets from the given
// defaults on first use.
func NewRateLimiter(defaults RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		defaults: defaults,
		buckets:  make(map[string]*tokenBucket),
	}
}

// Configure sets a community-specific limit, replacing its bucket.
func (rl *RateLimiter) Configure(community string, cfg RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cfg.CallsPerSecond <= 0 {
		delete(rl.buckets, community)
		return
	}
	rl.buckets[community] = newTokenBucket(cfg.CallsPerSecond, cfg.BurstSize)
}

// Allow checks if a call for the given community should be allowed.
func (rl *RateLimiter) Allow(community string) bool {
	if rl == nil {
		return true
	}

	rl.mu.RLock()
	bucket, exists := rl.buckets[community]
	rl.mu.RUnlock()

	if !exists {
		if rl.defaults.CallsPerSecond <= 0 {
			// No limit configured - allow
			return true
		}
		rl.mu.Lock()
		bucket, exists = rl.buckets[community]
		if !exists {
			bucket = newTokenBucket(rl.defaults.CallsPerSecond, rl.defaults.BurstSize)
			rl.buckets[community] = bucket
		}
		rl.mu.Unlock()
	}

	return bucket.take()
}

// AllowContext checks if a call is allowed, with context cancellation support.
func (rl *RateLimiter) AllowContext(ctx context.Context, community string) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	return rl.Allow(community)
}

// Stats returns current rate limit statistics for all communities.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(rl.buckets))
	for community, bucket := range rl.buckets {
		stats[community] = bucket.stats()
	}
	return stats
}

// RateLimitStats exposes current state of a rate limit bucket.
type RateLimitStats struct {
	Limit          int     `json:"limit"`
	BurstSize      int     `json:"burstSize"`
	Available      float64 `json:"available"`
	LastRefillTime string  `json:"lastRefillTime"`
}

// tokenBucket implements a token bucket algorithm for rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(cps, burstSize int) *tokenBucket {
	if cps <= 0 {
		cps = 10
	}
	if burstSize <= 0 {
		burstSize = cps
	}

	return &tokenBucket{
		rate:       float64(cps),
		capacity:   float64(burstSize),
		tokens:     float64(burstSize),
		lastRefill: time.Now(),
	}
}

// take attempts to consume one token from the bucket.
func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}

	return false
}

// refill adds tokens to the bucket based on elapsed time.
func (tb *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	tb.lastRefill = now
}

func (tb *tokenBucket) stats() RateLimitStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	return RateLimitStats{
		Limit:          int(tb.rate),
		BurstSize:      int(tb.capacity),
		Available:      tb.tokens,
		LastRefillTime: tb.lastRefill.Format(time.RFC3339),
	}
}
