package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/event"
	"github.com/polisai/agora/pkg/hook"
	"github.com/polisai/agora/pkg/platform"
	"github.com/polisai/agora/pkg/telemetry"
)

const tracerName = "agora.engine"

// evaluatePass runs every live policy of the action's category over the open
// proposal, in creation order, until one produces a terminal verdict. The
// caller holds the action lock.
func (e *Engine) evaluatePass(ctx context.Context, action *domain.Action, prop *domain.Proposal) error {
	tracer := otel.Tracer(tracerName)
	var span trace.Span
	ctx, span = tracer.Start(ctx, "policy.evaluate", trace.WithAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.kind", string(action.Kind)),
		attribute.String("community.id", action.Community),
		attribute.String("policy.category", string(action.Category())),
	))
	defer span.End()

	telemetry.RecordEvaluationPass(ctx, telemetry.EvaluationPass{
		Community: action.Community,
		Category:  string(action.Category()),
		Kind:      string(action.Kind),
	})

	policies, err := e.store.ListPolicies(ctx, action.Community, action.Category())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	anyLive := false
	for _, pol := range policies {
		if pol.IsBundled {
			continue
		}
		resolved, live, err := e.evaluatePair(ctx, action, prop, pol)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if resolved {
			return nil
		}
		if live {
			anyLive = true
		}
	}

	if !anyLive {
		if err := e.resolveUnclaimed(ctx, action, prop); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// evaluatePair advances one (action, policy) pair through its lifecycle.
// resolved reports that this policy terminally resolved the proposal; live
// reports that the pair is still participating (only meaningful when err is
// nil).
func (e *Engine) evaluatePair(ctx context.Context, action *domain.Action, prop *domain.Proposal, pol *domain.Policy) (resolved, live bool, err error) {
	ev, evErr := e.store.GetEvaluation(ctx, action.ID, pol.ID)
	if errors.Is(evErr, domain.ErrNotFound) {
		ev = &domain.Evaluation{ActionID: action.ID, PolicyID: pol.ID}
		evErr = nil
	}
	if evErr != nil {
		return false, false, evErr
	}

	switch ev.State {
	case domain.EvalNotApplicable, domain.EvalQuarantined, domain.EvalResolved:
		return false, false, nil
	}

	tracer := otel.Tracer(tracerName)
	pairCtx, pairSpan := tracer.Start(ctx, "policy.pair", trace.WithAttributes(
		attribute.String("policy.id", pol.ID),
		attribute.String("policy.name", pol.Name),
	))
	defer func() {
		pairSpan.SetAttributes(attribute.String("evaluation.state", string(ev.State)))
		if err != nil {
			pairSpan.RecordError(err)
			pairSpan.SetStatus(codes.Error, err.Error())
		}
		pairSpan.End()
	}()

	runner, runnerErr := e.hooks.RunnerFor(pairCtx, pol)
	if runnerErr != nil {
		abort, ferr := e.hookFault(pairCtx, action, pol, ev, "", runnerErr)
		if abort {
			return false, false, ferr
		}
		return false, false, nil
	}

	// Filter decides the pair exactly once; a miss is permanent.
	if ev.State == "" {
		in, inErr := e.hookInput(pairCtx, action, pol, prop)
		if inErr != nil {
			return false, false, inErr
		}
		res, runErr := e.runHook(pairCtx, runner, pol, domain.StageFilter, in)
		if runErr != nil {
			abort, ferr := e.hookFault(pairCtx, action, pol, ev, domain.StageFilter, runErr)
			if abort {
				return false, false, ferr
			}
			return false, false, nil
		}
		ev.Failures = 0
		if !res.Matched() {
			ev.State = domain.EvalNotApplicable
			if err := e.store.SaveEvaluation(pairCtx, ev); err != nil {
				return false, false, err
			}
			return false, false, nil
		}
		ev.State = domain.EvalApplicable
		if err := e.store.SaveEvaluation(pairCtx, ev); err != nil {
			return false, false, err
		}
		if err := e.applyResult(pairCtx, action, pol, res); err != nil {
			return false, false, err
		}
	}

	first := ev.State == domain.EvalApplicable

	// Initialize runs once, on the pass that first found the pair applicable.
	if first {
		in, inErr := e.hookInput(pairCtx, action, pol, prop)
		if inErr != nil {
			return false, false, inErr
		}
		in.FirstEvaluation = true
		res, runErr := e.runHook(pairCtx, runner, pol, domain.StageInitialize, in)
		if runErr != nil {
			abort, ferr := e.hookFault(pairCtx, action, pol, ev, domain.StageInitialize, runErr)
			if abort {
				return false, false, ferr
			}
			return false, false, nil
		}
		ev.Failures = 0
		ev.State = domain.EvalInitialized
		if err := e.store.SaveEvaluation(pairCtx, ev); err != nil {
			return false, false, err
		}
		if err := e.applyResult(pairCtx, action, pol, res); err != nil {
			return false, false, err
		}
	}

	// Check runs every pass until a terminal verdict.
	in, inErr := e.hookInput(pairCtx, action, pol, prop)
	if inErr != nil {
		return false, false, inErr
	}
	in.FirstEvaluation = first
	res, runErr := e.runHook(pairCtx, runner, pol, domain.StageCheck, in)
	if runErr == nil && res.Verdict == "" {
		runErr = fmt.Errorf("check returned no verdict")
	}
	if runErr != nil {
		abort, ferr := e.hookFault(pairCtx, action, pol, ev, domain.StageCheck, runErr)
		if abort {
			return false, false, ferr
		}
		return false, false, nil
	}
	ev.Failures = 0
	verdict := res.Verdict
	if err := e.applyResult(pairCtx, action, pol, res); err != nil {
		return false, false, err
	}

	switch verdict {
	case domain.VerdictPassed:
		return e.resolvePassed(pairCtx, action, prop, pol, runner, ev, first)
	case domain.VerdictFailed:
		return e.resolveFailed(pairCtx, action, prop, pol, runner, ev, first)
	default:
		return false, true, e.deferPair(pairCtx, action, prop, pol, runner, ev, first)
	}
}

// deferPair records a proposed verdict and runs the notify hook the first
// time the pair defers.
func (e *Engine) deferPair(ctx context.Context, action *domain.Action, prop *domain.Proposal, pol *domain.Policy, runner hook.Runner, ev *domain.Evaluation, first bool) error {
	ev.State = domain.EvalPending
	if err := e.store.SaveEvaluation(ctx, ev); err != nil {
		return err
	}
	if err := e.store.SaveAction(ctx, action); err != nil {
		return err
	}
	if ev.Notified {
		return nil
	}

	in, inErr := e.hookInput(ctx, action, pol, prop)
	if inErr != nil {
		return inErr
	}
	in.FirstEvaluation = first
	res, runErr := e.runHook(ctx, runner, pol, domain.StageNotify, in)
	if runErr != nil {
		_, ferr := e.hookFault(ctx, action, pol, ev, domain.StageNotify, runErr)
		return ferr
	}
	ev.Failures = 0
	ev.Notified = true
	if err := e.store.SaveEvaluation(ctx, ev); err != nil {
		return err
	}
	if err := e.applyResult(ctx, action, pol, res); err != nil {
		return err
	}
	if !pol.HasNotified {
		pol.HasNotified = true
		if err := e.store.SavePolicy(ctx, pol); err != nil {
			return err
		}
	}
	return nil
}

// resolvePassed runs the success hook, the real effect, and commits the
// passed resolution. Effect failure flips the resolution to failed; the
// proposal was never passed.
func (e *Engine) resolvePassed(ctx context.Context, action *domain.Action, prop *domain.Proposal, pol *domain.Policy, runner hook.Runner, ev *domain.Evaluation, first bool) (bool, bool, error) {
	in, inErr := e.hookInput(ctx, action, pol, prop)
	if inErr != nil {
		return false, false, inErr
	}
	in.FirstEvaluation = first
	res, runErr := e.runHook(ctx, runner, pol, domain.StageSuccess, in)
	if runErr != nil {
		abort, ferr := e.hookFault(ctx, action, pol, ev, domain.StageSuccess, runErr)
		if abort {
			return false, false, ferr
		}
		return false, false, nil
	}
	ev.Failures = 0
	if err := e.applyResult(ctx, action, pol, res); err != nil {
		return false, false, err
	}

	if res.ShouldExecute() {
		if effErr := e.applyEffect(ctx, action); effErr != nil {
			if ctx.Err() != nil {
				return false, true, effErr
			}
			return e.commitFailedEffect(ctx, action, prop, ev, effErr)
		}
	} else {
		e.logger.Info("success hook suppressed effect",
			"action_id", action.ID, "policy_id", pol.ID)
	}

	if err := prop.Resolve(domain.StatusPassed, time.Now()); err != nil {
		return false, false, err
	}
	if err := e.commitResolution(ctx, action, prop, ev); err != nil {
		return false, false, err
	}
	e.logger.Info("proposal passed",
		"action_id", action.ID,
		"community", action.Community,
		"policy_id", pol.ID,
	)
	return true, false, nil
}

// resolveFailed runs the fail hook, an optional platform revert, and commits
// the failed resolution.
func (e *Engine) resolveFailed(ctx context.Context, action *domain.Action, prop *domain.Proposal, pol *domain.Policy, runner hook.Runner, ev *domain.Evaluation, first bool) (bool, bool, error) {
	in, inErr := e.hookInput(ctx, action, pol, prop)
	if inErr != nil {
		return false, false, inErr
	}
	in.FirstEvaluation = first
	res, runErr := e.runHook(ctx, runner, pol, domain.StageFail, in)
	if runErr != nil {
		abort, ferr := e.hookFault(ctx, action, pol, ev, domain.StageFail, runErr)
		if abort {
			return false, false, ferr
		}
		return false, false, nil
	}
	ev.Failures = 0
	if err := e.applyResult(ctx, action, pol, res); err != nil {
		return false, false, err
	}

	if res.Revert && action.CommunityOrigin {
		if err := e.revertPlatformCall(ctx, action); err != nil {
			return false, true, err
		}
	}

	if err := prop.Resolve(domain.StatusFailed, time.Now()); err != nil {
		return false, false, err
	}
	if err := e.commitResolution(ctx, action, prop, ev); err != nil {
		return false, false, err
	}
	e.logger.Info("proposal failed",
		"action_id", action.ID,
		"community", action.Community,
		"policy_id", pol.ID,
	)
	return true, false, nil
}

// resolveUnclaimed applies the fallback verdict when no policy in the pool
// claims a reviewed action.
func (e *Engine) resolveUnclaimed(ctx context.Context, action *domain.Action, prop *domain.Proposal) error {
	e.logger.Info("no policy claimed action; applying fallback",
		"action_id", action.ID,
		"community", action.Community,
		"fallback", e.fallback,
	)

	if e.fallback == domain.VerdictPassed {
		if effErr := e.applyEffect(ctx, action); effErr != nil {
			if ctx.Err() != nil {
				return effErr
			}
			_, _, err := e.commitFailedEffect(ctx, action, prop, nil, effErr)
			return err
		}
		if err := prop.Resolve(domain.StatusPassed, time.Now()); err != nil {
			return err
		}
		return e.commitResolution(ctx, action, prop, nil)
	}

	if err := prop.Resolve(domain.StatusFailed, time.Now()); err != nil {
		return err
	}
	return e.commitResolution(ctx, action, prop, nil)
}

// commitResolution persists a freshly resolved proposal plus the action and
// the resolving pair, then emits the resolution event and metrics.
func (e *Engine) commitResolution(ctx context.Context, action *domain.Action, prop *domain.Proposal, ev *domain.Evaluation) error {
	if err := e.store.SaveProposal(ctx, prop); err != nil {
		return err
	}
	if err := e.store.SaveAction(ctx, action); err != nil {
		return err
	}
	if ev != nil {
		ev.State = domain.EvalResolved
		if err := e.store.SaveEvaluation(ctx, ev); err != nil {
			return err
		}
	}
	e.publishResolved(action, prop)
	telemetry.RecordResolution(ctx, telemetry.Resolution{
		Community: action.Community,
		Category:  string(action.Category()),
		Status:    string(prop.Status),
	})
	return nil
}

// commitFailedEffect resolves a proposal failed because its effect could not
// run, recording the cause in the action's scratch state. The effect error is
// returned after the resolution is committed.
func (e *Engine) commitFailedEffect(ctx context.Context, action *domain.Action, prop *domain.Proposal, ev *domain.Evaluation, effErr error) (bool, bool, error) {
	var callErr *platform.CallError
	if errors.As(effErr, &callErr) {
		action.Data.Set("platform_error", callErr.Err.Error())
		e.publish(event.TypePlatformCallFailed, event.CallFailureData{
			ActionID:  action.ID,
			Community: action.Community,
			Call:      callErr.Call,
			Reason:    callErr.Err.Error(),
		})
	} else {
		action.Data.Set("effect_error", effErr.Error())
	}

	if err := prop.Resolve(domain.StatusFailed, time.Now()); err != nil {
		return false, false, err
	}
	if err := e.commitResolution(ctx, action, prop, ev); err != nil {
		return false, false, err
	}
	e.logger.Warn("action effect failed",
		"action_id", action.ID,
		"community", action.Community,
		"error", effErr,
	)
	return true, false, effErr
}

// revertPlatformCall best-effort issues the compensating call of a failed
// community-origin platform action. Only a dead context blocks the
// resolution; a failed revert is logged and reported as an event.
func (e *Engine) revertPlatformCall(ctx context.Context, action *domain.Action) error {
	pc, ok := action.Payload.(domain.PlatformCall)
	if !ok || pc.RevertCall == "" {
		return nil
	}
	if e.platform == nil {
		e.logger.Warn("no platform dispatcher configured; cannot revert",
			"action_id", action.ID)
		return nil
	}
	if err := e.platform.Revert(ctx, action); err != nil {
		if ctx.Err() != nil {
			return err
		}
		e.logger.Warn("platform revert failed",
			"action_id", action.ID, "error", err)
		var callErr *platform.CallError
		if errors.As(err, &callErr) {
			e.publish(event.TypePlatformCallFailed, event.CallFailureData{
				ActionID:  action.ID,
				Community: action.Community,
				Call:      callErr.Call,
				Reason:    callErr.Err.Error(),
			})
		}
		return nil
	}
	pc.Reverted = true
	action.Payload = pc
	return nil
}

// hookFault counts a hook fault against the pair. A cancelled context aborts
// without counting. The first return reports whether the pass must abort;
// when the fault tripped quarantine the pass may continue past the pair.
func (e *Engine) hookFault(ctx context.Context, action *domain.Action, pol *domain.Policy, ev *domain.Evaluation, stage domain.HookStage, cause error) (bool, error) {
	if ctx.Err() != nil {
		return true, cause
	}

	ev.Failures++
	if ev.Failures >= e.maxHookFailures {
		ev.State = domain.EvalQuarantined
		if err := e.store.SaveEvaluation(ctx, ev); err != nil {
			return true, err
		}
		e.logger.Warn("policy quarantined for action",
			"action_id", ev.ActionID,
			"policy_id", pol.ID,
			"failures", ev.Failures,
			"error", cause,
		)
		e.publish(event.TypePolicyQuarantined, event.QuarantineData{
			ActionID: ev.ActionID,
			PolicyID: pol.ID,
			Failures: ev.Failures,
		})
		telemetry.RecordQuarantine(ctx, telemetry.Quarantine{
			Community: action.Community,
			PolicyID:  pol.ID,
		})
		return false, nil
	}

	if err := e.store.SaveEvaluation(ctx, ev); err != nil {
		return true, err
	}
	e.logger.Error("hook fault",
		"action_id", ev.ActionID,
		"policy_id", pol.ID,
		"stage", stage,
		"failures", ev.Failures,
		"error", cause,
	)
	return true, &hook.Error{PolicyID: pol.ID, Stage: stage, Err: cause}
}

// runHook executes one stage and records its latency.
func (e *Engine) runHook(ctx context.Context, runner hook.Runner, pol *domain.Policy, stage domain.HookStage, in hook.Input) (*hook.Result, error) {
	start := time.Now()
	res, err := runner.Run(ctx, stage, in)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordHookExecution(ctx, telemetry.HookExecution{
		Community: pol.Community,
		PolicyID:  pol.ID,
		Stage:     string(stage),
		Outcome:   outcome,
		Duration:  time.Since(start),
	})
	return res, err
}

// applyResult folds a hook's outputs back into engine state: scratch patches,
// settable payload fields, and notices.
func (e *Engine) applyResult(ctx context.Context, action *domain.Action, pol *domain.Policy, res *hook.Result) error {
	if res == nil {
		return nil
	}
	if len(res.ActionData) > 0 {
		action.Data.Apply(res.ActionData)
	}
	if len(res.PolicyData) > 0 {
		if pol.Data == nil {
			pol.Data = domain.NewDataStore()
		}
		pol.Data.Apply(res.PolicyData)
		if err := e.store.SavePolicy(ctx, pol); err != nil {
			return err
		}
	}
	applyActionFields(action, res.ActionFields)
	if len(res.Notices) > 0 {
		e.publish(event.TypePolicyNotices, event.NoticeData{
			ActionID:  action.ID,
			PolicyID:  pol.ID,
			Community: action.Community,
			Messages:  res.Notices,
		})
	}
	return nil
}

// applyActionFields patches the whitelisted settable payload fields. Hooks
// may rewrite document content before it lands and platform call values
// before they are dispatched; everything else is immutable.
func applyActionFields(action *domain.Action, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	switch p := action.Payload.(type) {
	case domain.AddDocument:
		if v, ok := fields["name"].(string); ok {
			p.Name = v
		}
		if v, ok := fields["text"].(string); ok {
			p.Text = v
		}
		action.Payload = p
	case domain.EditDocument:
		if v, ok := fields["name"].(string); ok {
			p.Name = v
		}
		if v, ok := fields["text"].(string); ok {
			p.Text = v
		}
		action.Payload = p
	case domain.PlatformCall:
		if v, ok := fields["values"].(map[string]any); ok {
			p.Values = v
		}
		action.Payload = p
	}
}

// hookInput builds the read-only input document for one hook run. Snapshots
// are taken fresh so a stage sees the patches applied by earlier stages of
// the same pass.
func (e *Engine) hookInput(ctx context.Context, action *domain.Action, pol *domain.Policy, prop *domain.Proposal) (hook.Input, error) {
	votes, err := e.votesInput(ctx, action)
	if err != nil {
		return hook.Input{}, err
	}
	return hook.Input{
		Action: map[string]any{
			"id":               action.ID,
			"kind":             string(action.Kind),
			"category":         string(action.Category()),
			"community":        action.Community,
			"initiator":        action.Initiator,
			"community_origin": action.CommunityOrigin,
			"payload":          domain.PayloadFields(action.Payload),
			"data":             snapshot(action.Data),
		},
		Policy: map[string]any{
			"id":   pol.ID,
			"name": pol.Name,
			"data": snapshot(pol.Data),
		},
		Proposal: map[string]any{
			"status":          string(prop.Status),
			"created_at":      prop.CreatedAt.UTC().Format(time.RFC3339),
			"elapsed_seconds": prop.Elapsed(time.Now()).Seconds(),
		},
		Votes: votes,
	}, nil
}

func snapshot(d *domain.DataStore) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return d.Snapshot()
}
