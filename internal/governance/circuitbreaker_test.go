package governance

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errPlatformDown = errors.New("platform down")

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Cooldown: time.Hour})

	fail := func() error { return errPlatformDown }
	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errPlatformDown) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	if err := cb.Execute(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit error = %v", err)
	}
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour})

	if err := cb.Execute(func() error { return errPlatformDown }); err == nil {
		t.Fatal("expected failure")
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}
	if err := cb.Execute(func() error { return errPlatformDown }); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("circuit opened although failures were not consecutive")
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      1,
		Cooldown:         10 * time.Millisecond,
		MaxHalfOpenCalls: 2,
	})

	if err := cb.Execute(func() error { return errPlatformDown }); err == nil {
		t.Fatal("expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probes succeed, circuit closes again.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state after recovery = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      1,
		Cooldown:         10 * time.Millisecond,
		MaxHalfOpenCalls: 3,
	})

	_ = cb.Execute(func() error { return errPlatformDown })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return errPlatformDown }); !errors.Is(err, errPlatformDown) {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after failed probe = %s, want open", cb.State())
	}
}

func TestExecuteContextCancelledBeforeCall(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.ExecuteContext(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if called {
		t.Fatal("fn ran despite cancelled context")
	}
}

func TestExecuteContextCancellationNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.ExecuteContext(ctx, func(c context.Context) error {
		cancel()
		return c.Err()
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	// The aborted call must not trip the breaker.
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerManagerPerCommunity(t *testing.T) {
	m := NewCircuitBreakerManager(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Hour})

	_ = m.Get("tribunal").Execute(func() error { return errPlatformDown })

	if got := m.Get("tribunal").State(); got != StateOpen {
		t.Fatalf("tribunal state = %s, want open", got)
	}
	if got := m.Get("garden").State(); got != StateClosed {
		t.Fatalf("garden state = %s, want closed", got)
	}

	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("stats for %d breakers, want 2", len(stats))
	}
	if stats["tribunal"].State != string(StateOpen) {
		t.Fatalf("tribunal stats state = %s", stats["tribunal"].State)
	}

	m.ResetAll()
	if got := m.Get("tribunal").State(); got != StateClosed {
		t.Fatalf("state after reset = %s", got)
	}
}
