package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/event"
	"github.com/polisai/agora/pkg/hook"
	"github.com/polisai/agora/pkg/storage"
	"github.com/polisai/agora/pkg/telemetry"
)

// DefaultMaxHookFailures is the consecutive-fault threshold at which an
// (action, policy) pair is quarantined.
const DefaultMaxHookFailures = 5

// RunnerFactory provides compiled hook runners per policy. *hook.Compiler
// implements it; tests swap in RunnerFunc-backed fakes.
type RunnerFactory interface {
	RunnerFor(ctx context.Context, pol *domain.Policy) (hook.Runner, error)
	Admit(ctx context.Context, hooks domain.HookSet) error
	Invalidate(policyID string)
}

// PlatformDispatcher executes the platform side of passed actions.
// *platform.Dispatcher implements it.
type PlatformDispatcher interface {
	Execute(ctx context.Context, action *domain.Action) error
	Revert(ctx context.Context, action *domain.Action) error
}

// Config holds dependencies for creating an Engine.
type Config struct {
	Store    storage.Store
	Hooks    RunnerFactory
	Platform PlatformDispatcher
	Bus      *event.Bus
	Logger   *slog.Logger

	// MaxHookFailures overrides the quarantine threshold; zero keeps the
	// default.
	MaxHookFailures int

	// FallbackVerdict resolves reviewed actions no policy claims. Only
	// passed and failed are legal; empty means failed, because nothing
	// authorised the action.
	FallbackVerdict domain.Verdict
}

// Engine gates, evaluates, and resolves community actions.
type Engine struct {
	store    storage.Store
	hooks    RunnerFactory
	platform PlatformDispatcher
	bus      *event.Bus
	logger   *slog.Logger
	gate     *Gate

	maxHookFailures int
	fallback        domain.Verdict

	locks *actionLocks
}

// New creates an engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Hooks == nil {
		return nil, fmt.Errorf("engine: hook runner factory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fallback := cfg.FallbackVerdict
	switch fallback {
	case "":
		fallback = domain.VerdictFailed
	case domain.VerdictPassed, domain.VerdictFailed:
	default:
		return nil, fmt.Errorf("engine: fallback verdict must be passed or failed, got %q", fallback)
	}

	maxFailures := cfg.MaxHookFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxHookFailures
	}

	return &Engine{
		store:           cfg.Store,
		hooks:           cfg.Hooks,
		platform:        cfg.Platform,
		bus:             cfg.Bus,
		logger:          logger,
		gate:            NewGate(cfg.Store),
		maxHookFailures: maxFailures,
		fallback:        fallback,
		locks:           newActionLocks(),
	}, nil
}

// Gate exposes the engine's permission gate for direct classification.
func (e *Engine) Gate() *Gate {
	return e.gate
}

// Propose submits an action to governance. It validates the action, runs the
// permission gate, persists the action with its 1:1 proposal, and runs the
// first evaluation pass for reviewed actions.
//
// The returned proposal may already be terminal: denied initiators fail at
// creation, execute-allowed initiators pass immediately, and a first pass can
// resolve either way. A non-nil error alongside a non-nil proposal reports an
// operational fault (hook fault, platform failure) after the proposal was
// committed.
func (e *Engine) Propose(ctx context.Context, action *domain.Action) (*domain.Proposal, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Data == nil {
		action.Data = domain.NewDataStore()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}

	member, err := e.store.GetMember(ctx, action.Initiator)
	if err != nil {
		return nil, fmt.Errorf("initiator %s: %w", action.Initiator, err)
	}
	if member.Community != action.Community {
		return nil, fmt.Errorf("%w: initiator %s belongs to community %s",
			domain.ErrCommunityMismatch, member.ID, member.Community)
	}

	e.locks.lock(action.ID)
	defer e.locks.unlock(action.ID)

	if _, err := e.store.GetProposal(ctx, action.ID); err == nil {
		return nil, fmt.Errorf("%w: action %s already proposed", domain.ErrInvalidAction, action.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Bundle members wait for their bundle; no gate, no evaluation, no
	// events until the bundle executes. Policy payloads still go through
	// admission so a broken spec cannot hide inside a bundle.
	if action.IsBundled {
		if err := e.admitPolicyPayload(ctx, action); err != nil {
			return nil, err
		}
		if err := e.store.SaveAction(ctx, action); err != nil {
			return nil, err
		}
		prop := domain.NewProposal(action, time.Now())
		if err := e.store.SaveProposal(ctx, prop); err != nil {
			return nil, err
		}
		return prop, nil
	}

	// Actions first observed on the platform already happened; the gate
	// only guards what members route through the engine.
	decision := DecisionReviewRequired
	if !action.CommunityOrigin {
		decision, err = e.gate.Classify(ctx, member, action.Kind)
		if err != nil {
			return nil, err
		}
	}

	// Early admission check so broken policy specs never enter governance.
	if err := e.admitPolicyPayload(ctx, action); err != nil {
		return nil, err
	}

	switch decision {
	case DecisionProposeDenied:
		return e.proposeDenied(ctx, action)
	case DecisionExecuteAllowed:
		return e.proposeExecute(ctx, action)
	default:
		return e.proposeReview(ctx, action)
	}
}

func (e *Engine) proposeDenied(ctx context.Context, action *domain.Action) (*domain.Proposal, error) {
	if err := e.store.SaveAction(ctx, action); err != nil {
		return nil, err
	}
	prop := domain.NewProposal(action, time.Now())
	if err := prop.Resolve(domain.StatusFailed, prop.CreatedAt); err != nil {
		return nil, err
	}
	if err := e.store.SaveProposal(ctx, prop); err != nil {
		return nil, err
	}

	e.logger.Info("proposal denied by gate",
		"action_id", action.ID,
		"community", action.Community,
		"kind", action.Kind,
		"initiator", action.Initiator,
	)
	e.publishProposed(action)
	e.publishResolved(action, prop)
	telemetry.RecordResolution(ctx, telemetry.Resolution{
		Community: action.Community,
		Category:  string(action.Category()),
		Status:    string(prop.Status),
	})
	return prop, nil
}

func (e *Engine) proposeExecute(ctx context.Context, action *domain.Action) (*domain.Proposal, error) {
	prop := domain.NewProposal(action, time.Now())

	if effErr := e.applyEffect(ctx, action); effErr != nil {
		if ctx.Err() != nil {
			// Nothing persisted; the whole Propose can be retried.
			return nil, effErr
		}
		if err := e.store.SaveAction(ctx, action); err != nil {
			return nil, err
		}
		e.publishProposed(action)
		_, _, commitErr := e.commitFailedEffect(ctx, action, prop, nil, effErr)
		if commitErr != nil {
			return prop, commitErr
		}
		return prop, nil
	}

	if err := e.store.SaveAction(ctx, action); err != nil {
		return nil, err
	}
	if err := prop.Resolve(domain.StatusPassed, time.Now()); err != nil {
		return nil, err
	}
	if err := e.store.SaveProposal(ctx, prop); err != nil {
		return nil, err
	}

	e.logger.Info("action executed via gate fast path",
		"action_id", action.ID,
		"community", action.Community,
		"kind", action.Kind,
		"initiator", action.Initiator,
	)
	e.publishProposed(action)
	e.publishResolved(action, prop)
	telemetry.RecordResolution(ctx, telemetry.Resolution{
		Community: action.Community,
		Category:  string(action.Category()),
		Status:    string(prop.Status),
	})
	return prop, nil
}

func (e *Engine) proposeReview(ctx context.Context, action *domain.Action) (*domain.Proposal, error) {
	if err := e.store.SaveAction(ctx, action); err != nil {
		return nil, err
	}
	prop := domain.NewProposal(action, time.Now())
	if err := e.store.SaveProposal(ctx, prop); err != nil {
		return nil, err
	}

	e.logger.Info("action under review",
		"action_id", action.ID,
		"community", action.Community,
		"kind", action.Kind,
		"initiator", action.Initiator,
	)
	e.publishProposed(action)

	if err := e.evaluatePass(ctx, action, prop); err != nil {
		return prop, err
	}
	return prop, nil
}

// Reevaluate runs one evaluation pass over an open proposal. Terminal
// proposals and dormant bundle members are strict no-ops.
func (e *Engine) Reevaluate(ctx context.Context, actionID string) error {
	e.locks.lock(actionID)
	defer e.locks.unlock(actionID)

	prop, err := e.store.GetProposal(ctx, actionID)
	if err != nil {
		return err
	}
	if prop.Terminal() {
		return nil
	}

	action, err := e.store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if action.IsBundled {
		return nil
	}
	return e.evaluatePass(ctx, action, prop)
}

// admitPolicyPayload compiles the hook set carried by policy CRUD payloads so
// unparseable policies are rejected before anything is persisted.
func (e *Engine) admitPolicyPayload(ctx context.Context, action *domain.Action) error {
	spec, ok := policySpecOf(action.Payload)
	if !ok {
		return nil
	}
	return e.hooks.Admit(ctx, hook.Complete(spec.Hooks))
}

func policySpecOf(p domain.Payload) (domain.PolicySpec, bool) {
	switch v := p.(type) {
	case domain.AddGovernancePolicy:
		return v.Spec, true
	case domain.ChangeGovernancePolicy:
		return v.Spec, true
	case domain.AddPlatformPolicy:
		return v.Spec, true
	case domain.ChangePlatformPolicy:
		return v.Spec, true
	default:
		return domain.PolicySpec{}, false
	}
}

func (e *Engine) publish(eventType event.Type, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventType, event.New(eventType, data))
}

func (e *Engine) publishProposed(action *domain.Action) {
	e.publish(event.TypeActionProposed, event.ProposalData{
		ActionID:  action.ID,
		Community: action.Community,
		Kind:      action.Kind,
		Status:    domain.StatusProposed,
	})
}

func (e *Engine) publishResolved(action *domain.Action, prop *domain.Proposal) {
	eventType := event.TypeProposalPassed
	if prop.Status == domain.StatusFailed {
		eventType = event.TypeProposalFailed
	}
	e.publish(eventType, event.ProposalData{
		ActionID:  action.ID,
		Community: action.Community,
		Kind:      action.Kind,
		Status:    prop.Status,
	})
}
