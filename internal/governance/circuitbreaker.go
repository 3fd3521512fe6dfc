package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is probing whether the platform has recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking. Platform
// call volumes are low, so tripping is purely consecutive-failure based.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure threshold before opening.
	MaxFailures int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// MaxHalfOpenCalls is the number of probe calls allowed in half-open state
	// before forcing a decision (close on success, reopen on failure).
	MaxHalfOpenCalls int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		MaxHalfOpenCalls: 3,
	}
}

// CircuitBreaker guards one community's platform adapter from repeated
// failing calls.
type CircuitBreaker struct {
	mu     sync.RWMutex
	state  CircuitBreakerState
	config CircuitBreakerConfig

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenCalls        int
	totalFailures        int
	totalSuccesses       int
	lastStateChange      time.Time
	openUntil            time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxHalfOpenCalls <= 0 {
		config.MaxHalfOpenCalls = 3
	}
	return &CircuitBreaker{
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// Execute wraps a call with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

// ExecuteContext wraps a call with circuit breaker and context support. A
// cancelled context is reported as-is and never counted against the circuit.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	if ctx.Err() != nil {
		return err
	}
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if !cb.openUntil.IsZero() && now.After(cb.openUntil) {
			cb.transitionToLocked(StateHalfOpen, now)
			cb.halfOpenCalls++
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.MaxHalfOpenCalls {
			cb.halfOpenCalls++
			return nil
		}
		return ErrCircuitOpen
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	} else {
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	}

	switch cb.state {
	case StateHalfOpen:
		if err != nil {
			cb.transitionToLocked(StateOpen, now)
			return
		}
		if cb.consecutiveSuccesses >= cb.config.MaxHalfOpenCalls {
			cb.transitionToLocked(StateClosed, now)
		}
	case StateClosed:
		if err != nil && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionToLocked(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) transitionToLocked(newState CircuitBreakerState, now time.Time) {
	if cb.state == newState {
		return
	}

	cb.state = newState
	cb.lastStateChange = now
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenCalls = 0

	if newState == StateOpen {
		cb.openUntil = now.Add(cb.config.Cooldown)
	} else {
		cb.openUntil = time.Time{}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:            string(cb.state),
		Failures:         cb.totalFailures,
		Successes:        cb.totalSuccesses,
		LastStateChange:  cb.lastStateChange.Format(time.RFC3339),
		Cooldown:         cb.config.Cooldown.String(),
		HalfOpenCalls:    cb.halfOpenCalls,
		MaxHalfOpenCalls: cb.config.MaxHalfOpenCalls,
	}
}

// CircuitBreakerStats exposes circuit breaker status information.
type CircuitBreakerStats struct {
	State            string `json:"state"`
	Failures         int    `json:"failures"`
	Successes        int    `json:"successes"`
	LastStateChange  string `json:"lastStateChange"`
	Cooldown         string `json:"cooldown"`
	HalfOpenCalls    int    `json:"halfOpenCalls"`
	MaxHalfOpenCalls int    `json:"maxHalfOpenCalls"`
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionToLocked(StateClosed, time.Now())
	cb.totalFailures = 0
	cb.totalSuccesses = 0
}

// CircuitBreakerManager manages circuit breakers keyed by community.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	defaults CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager that builds breakers from the
// given defaults on first use.
func NewCircuitBreakerManager(defaults CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Configure adds or replaces the circuit breaker for a community.
func (m *CircuitBreakerManager) Configure(community string, config CircuitBreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breakers[community] = NewCircuitBreaker(config)
}

// Get retrieves the circuit breaker for a community, creating one if needed.
func (m *CircuitBreakerManager) Get(community string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[community]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[community]; exists {
		return cb
	}

	cb = NewCircuitBreaker(m.defaults)
	m.breakers[community] = cb
	return cb
}

// Stats returns statistics for all circuit breakers.
func (m *CircuitBreakerManager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for community, cb := range m.breakers {
		stats[community] = cb.Stats()
	}
	return stats
}

// ResetAll resets all circuit breakers to closed state.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.breakers {
		cb.Reset()
	}
}
