// Package platform dispatches the outbound side of governance: once a
// proposal passes, its platform call is executed against the community's
// platform through an Adapter. The Dispatcher wraps adapters with the
// per-community circuit breaker, retry, and rate limit primitives so a
// misbehaving platform cannot wedge the evaluation loop.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/agora/pkg/domain"
)

// Adapter executes platform calls for a community. Implementations talk to
// the actual platform (chat server, forum, source host); they receive the
// full action so they can route on community and payload.
type Adapter interface {
	// Execute performs the call carried by a platform_call action.
	Execute(ctx context.Context, action *domain.Action) error
	// Revert performs the action's revert call, if one is defined.
	Revert(ctx context.Context, action *domain.Action) error
}

// CallError reports a platform call that definitively failed after the
// dispatcher exhausted its governance primitives. It is distinct from a
// policy verdict: the proposal resolution it triggers is an execution
// failure, not a community decision.
type CallError struct {
	Community string
	Call      string
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("platform call %q failed for community %s: %v", e.Call, e.Community, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// LogAdapter is an Adapter that only logs. It backs deployments that run the
// governance loop without a platform connection, and tests.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter creates a logging adapter. A nil logger uses slog.Default.
func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger}
}

// Execute logs the call and succeeds.
func (a *LogAdapter) Execute(_ context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	a.logger.Info("platform call",
		"community", action.Community,
		"call", call.Call,
		"values", len(call.Values),
	)
	return nil
}

// Revert logs the revert call and succeeds.
func (a *LogAdapter) Revert(_ context.Context, action *domain.Action) error {
	call, ok := action.Payload.(domain.PlatformCall)
	if !ok {
		return fmt.Errorf("action %s is not a platform call", action.ID)
	}
	if call.RevertCall == "" {
		return nil
	}
	a.logger.Info("platform call reverted",
		"community", action.Community,
		"call", call.RevertCall,
	)
	return nil
}
