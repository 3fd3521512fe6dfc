package governance

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterUnlimitedByDefault(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	for i := 0; i < 100; i++ {
		if !rl.Allow("anything") {
			t.Fatalf("call %d denied without a configured limit", i)
		}
	}
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow("c1") {
			t.Fatalf("burst call %d denied", i)
		}
	}
	if rl.Allow("c1") {
		t.Fatal("call beyond burst allowed")
	}

	// Buckets are per community; another community has its own burst.
	if !rl.Allow("c2") {
		t.Fatal("second community denied")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallsPerSecond: 50, BurstSize: 1})

	if !rl.Allow("c1") {
		t.Fatal("first call denied")
	}
	if rl.Allow("c1") {
		t.Fatal("bucket not drained")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("c1") {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimiterConfigureOverride(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CallsPerSecond: 1, BurstSize: 1})
	rl.Configure("vip", RateLimiterConfig{CallsPerSecond: 100, BurstSize: 10})

	for i := 0; i < 10; i++ {
		if !rl.Allow("vip") {
			t.Fatalf("vip call %d denied", i)
		}
	}

	// Configuring a zero rate removes the community's bucket entirely.
	rl.Configure("vip", RateLimiterConfig{})
	stats := rl.Stats()
	if _, ok := stats["vip"]; ok {
		t.Fatal("vip bucket survived zero-rate configure")
	}
}

func TestAllowContextCancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rl.AllowContext(ctx, "c1") {
		t.Fatal("cancelled context allowed")
	}
}
