package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/agora/internal/governance"
	"github.com/polisai/agora/pkg/domain"
)

// Config holds dependencies and governance settings for a Dispatcher.
type Config struct {
	Adapter   Adapter
	Logger    *slog.Logger
	Breaker   governance.CircuitBreakerConfig
	Retry     governance.RetryConfig
	RateLimit governance.RateLimiterConfig
}

// Dispatcher executes platform calls through an adapter, guarded by a
// per-community circuit breaker, bounded retry with backoff, and a
// per-community rate limit. Failures that survive all three come back as
// *CallError; a dead context comes back unwrapped so callers can tell an
// aborted pass from a failed call.
type Dispatcher struct {
	adapter  Adapter
	logger   *slog.Logger
	breakers *governance.CircuitBreakerManager
	retry    *governance.RetryPolicy
	limiter  *governance.RateLimiter
}

// NewDispatcher creates a dispatcher around the given adapter.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Breaker == (governance.CircuitBreakerConfig{}) {
		cfg.Breaker = governance.DefaultCircuitBreakerConfig()
	}
	if cfg.Retry == (governance.RetryConfig{}) {
		cfg.Retry = governance.DefaultRetryConfig()
	}
	return &Dispatcher{
		adapter:  cfg.Adapter,
		logger:   logger,
		breakers: governance.NewCircuitBreakerManager(cfg.Breaker),
		retry:    governance.NewRetryPolicy(cfg.Retry),
		limiter:  governance.NewRateLimiter(cfg.RateLimit),
	}
}

// Execute dispatches the action's platform call.
func (d *Dispatcher) Execute(ctx context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	return d.dispatch(ctx, action, call.Call, d.adapter.Execute)
}

// Revert dispatches the action's revert call. Actions without one are a
// no-op.
func (d *Dispatcher) Revert(ctx context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	if call.RevertCall == "" {
		return nil
	}
	return d.dispatch(ctx, action, call.RevertCall, d.adapter.Revert)
}

func (d *Dispatcher) dispatch(ctx context.Context, action *domain.Action, call string, fn func(context.Context, *domain.Action) error) error {
	if !d.limiter.AllowContext(ctx, action.Community) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &CallError{Community: action.Community, Call: call, Err: governance.ErrRateLimited}
	}

	breaker := d.breakers.Get(action.Community)
	err := d.retry.Execute(ctx, func(attemptCtx context.Context) error {
		return breaker.ExecuteContext(attemptCtx, func(execCtx context.Context) error {
			return fn(execCtx, action)
		})
	}, retryable)
	if err == nil {
		d.logger.Debug("platform call dispatched",
			"community", action.Community,
			"action_id", action.ID,
			"call", call,
		)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	d.logger.Warn("platform call failed",
		"community", action.Community,
		"action_id", action.ID,
		"call", call,
		"error", err,
	)
	return &CallError{Community: action.Community, Call: call, Err: err}
}

// Stats reports circuit breaker and rate limit state per community, for the
// admin status endpoint.
type Stats struct {
	Breakers   map[string]governance.CircuitBreakerStats `json:"breakers"`
	RateLimits map[string]governance.RateLimitStats      `json:"rateLimits"`
}

// Stats snapshots the dispatcher's governance state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Breakers:   d.breakers.Stats(),
		RateLimits: d.limiter.Stats(),
	}
}

func retryable(err error) bool {
	if errors.Is(err, governance.ErrCircuitOpen) {
		return false
	}
	return governance.IsRetryableError(err)
}
