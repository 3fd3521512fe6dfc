package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/telemetry"
)

// ProposeBundle persists the member actions as dormant bundle members and
// then routes the bundle itself through Propose. The bundle payload's member
// list is rewritten to the stored member IDs in the given order; for policy
// bundles members is empty and the payload's policy list is kept as
// authored.
//
// Members must belong to the bundle's community and category and must not be
// bundles themselves.
func (e *Engine) ProposeBundle(ctx context.Context, bundle *domain.Action, members []*domain.Action) (*domain.Proposal, error) {
	b, ok := domain.BundleOf(bundle)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a bundle", domain.ErrInvalidAction, bundle.Kind)
	}
	if len(members) > 0 && len(b.Policies) > 0 {
		return nil, fmt.Errorf("%w: bundle mixes member actions and policies", domain.ErrInvalidAction)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Kind.IsBundle() {
			return nil, fmt.Errorf("%w: bundles cannot nest", domain.ErrInvalidAction)
		}
		if m.Community != bundle.Community {
			return nil, fmt.Errorf("%w: member %s belongs to community %s",
				domain.ErrCommunityMismatch, m.Kind, m.Community)
		}
		if m.Category() != bundle.Category() {
			return nil, fmt.Errorf("%w: %s member %s in %s bundle",
				domain.ErrInvalidAction, m.Category(), m.Kind, bundle.Category())
		}
		m.IsBundled = true
		if _, err := e.Propose(ctx, m); err != nil {
			return nil, fmt.Errorf("bundle member %s: %w", m.Kind, err)
		}
		ids = append(ids, m.ID)
	}

	if len(members) > 0 {
		b.Actions = ids
		switch p := bundle.Payload.(type) {
		case domain.GovernanceBundle:
			p.Bundle = b
			bundle.Payload = p
		case domain.PlatformBundle:
			p.Bundle = b
			bundle.Payload = p
		}
	}
	return e.Propose(ctx, bundle)
}

// executeBundle is the effect of a passed bundle action. Policy bundles
// activate dormant policies; action bundles execute their members, plain or
// by election.
func (e *Engine) executeBundle(ctx context.Context, action *domain.Action, b domain.Bundle) error {
	if len(b.Policies) > 0 {
		return e.executePolicyBundle(ctx, action, b)
	}
	if b.BundleKind == domain.BundleElection {
		return e.executeElection(ctx, action, b)
	}
	return e.executePlainBundle(ctx, action, b)
}

// executePlainBundle runs every member's effect in order, best effort: a
// failing member resolves failed and the walk continues, and effects already
// applied stay applied. The bundle's own effect fails unless every member
// passed, so the bundle proposal carries the aggregate outcome.
func (e *Engine) executePlainBundle(ctx context.Context, action *domain.Action, b domain.Bundle) error {
	var failed []error
	for _, id := range b.Actions {
		effErr, err := e.executeMember(ctx, action, id)
		if err != nil {
			return err
		}
		if effErr != nil {
			failed = append(failed, effErr)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("bundle %s: %d of %d members failed: %w",
			action.ID, len(failed), len(b.Actions), errors.Join(failed...))
	}
	return nil
}

// executeElection resolves the winner by plurality of the number votes cast
// on the bundle's proposal, where a vote's value is the index of the chosen
// member. Ties and the no-votes case fall to the lowest index. Only the
// winner executes; every loser resolves failed without running anything.
func (e *Engine) executeElection(ctx context.Context, action *domain.Action, b domain.Bundle) error {
	votes, err := e.store.ListNumberVotes(ctx, action.ID)
	if err != nil {
		return err
	}
	tally := NumberTally{Values: make(map[int]int)}
	for _, v := range votes {
		if v.Value < 0 || v.Value >= len(b.Actions) {
			continue
		}
		tally.Values[v.Value]++
		tally.Total++
	}
	winner, _ := tally.Leader()

	e.logger.Info("election decided",
		"action_id", action.ID,
		"community", action.Community,
		"winner_index", winner,
		"ballots", tally.Total,
	)

	var winnerErr error
	for i, id := range b.Actions {
		if i == winner {
			effErr, err := e.executeMember(ctx, action, id)
			if err != nil {
				return err
			}
			winnerErr = effErr
			continue
		}
		if err := e.failMember(ctx, action, id); err != nil {
			return err
		}
	}
	if winnerErr != nil {
		return fmt.Errorf("bundle %s: elected member failed: %w", action.ID, winnerErr)
	}
	return nil
}

// executeMember applies one member's effect and resolves its proposal with
// the outcome. The first return is the member's effect error (a bundle-level
// accounting signal); the second is an operational fault that aborts the
// whole bundle effect.
func (e *Engine) executeMember(ctx context.Context, bundle *domain.Action, memberID string) (error, error) {
	member, prop, err := e.memberPair(ctx, bundle, memberID)
	if err != nil || member == nil {
		return nil, err
	}
	if prop.Terminal() {
		if prop.Status == domain.StatusFailed {
			return fmt.Errorf("member %s already failed", memberID), nil
		}
		return nil, nil
	}

	effErr := e.applyEffect(ctx, member)
	if effErr != nil && ctx.Err() != nil {
		return nil, effErr
	}

	status := domain.StatusPassed
	if effErr != nil {
		member.Data.Set("effect_error", effErr.Error())
		status = domain.StatusFailed
		e.logger.Warn("bundle member failed",
			"bundle_id", bundle.ID,
			"action_id", member.ID,
			"kind", member.Kind,
			"error", effErr,
		)
	}
	if err := e.resolveMember(ctx, member, prop, status); err != nil {
		return nil, err
	}
	if effErr != nil {
		return fmt.Errorf("member %s (%s): %w", member.ID, member.Kind, effErr), nil
	}
	return nil, nil
}

// failMember resolves an election loser without running its effect.
func (e *Engine) failMember(ctx context.Context, bundle *domain.Action, memberID string) error {
	member, prop, err := e.memberPair(ctx, bundle, memberID)
	if err != nil || member == nil {
		return err
	}
	if prop.Terminal() {
		return nil
	}
	member.Data.Set("effect_error", "lost election")
	return e.resolveMember(ctx, member, prop, domain.StatusFailed)
}

// memberPair loads a member action with its proposal. A dangling member
// reference is logged and skipped, reported as a nil action.
func (e *Engine) memberPair(ctx context.Context, bundle *domain.Action, memberID string) (*domain.Action, *domain.Proposal, error) {
	member, err := e.store.GetAction(ctx, memberID)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("bundle references missing member",
			"bundle_id", bundle.ID, "action_id", memberID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	prop, err := e.store.GetProposal(ctx, memberID)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("bundle member has no proposal",
			"bundle_id", bundle.ID, "action_id", memberID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return member, prop, nil
}

// resolveMember commits a bundle member's resolution. Members never run
// hooks; the bundle's outcome for them is final.
func (e *Engine) resolveMember(ctx context.Context, member *domain.Action, prop *domain.Proposal, status domain.ProposalStatus) error {
	if err := prop.Resolve(status, time.Now()); err != nil {
		return err
	}
	if err := e.store.SaveProposal(ctx, prop); err != nil {
		return err
	}
	if err := e.store.SaveAction(ctx, member); err != nil {
		return err
	}
	e.publishResolved(member, prop)
	telemetry.RecordResolution(ctx, telemetry.Resolution{
		Community: member.Community,
		Category:  string(member.Category()),
		Status:    string(prop.Status),
	})
	return nil
}

// executePolicyBundle activates dormant policies. A plain bundle activates
// every listed policy; an election activates only the winner and leaves the
// losers dormant.
func (e *Engine) executePolicyBundle(ctx context.Context, action *domain.Action, b domain.Bundle) error {
	winner := -1
	if b.BundleKind == domain.BundleElection {
		votes, err := e.store.ListNumberVotes(ctx, action.ID)
		if err != nil {
			return err
		}
		tally := NumberTally{Values: make(map[int]int)}
		for _, v := range votes {
			if v.Value < 0 || v.Value >= len(b.Policies) {
				continue
			}
			tally.Values[v.Value]++
			tally.Total++
		}
		winner, _ = tally.Leader()
	}

	for i, id := range b.Policies {
		if winner >= 0 && i != winner {
			continue
		}
		pol, err := e.store.GetPolicy(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("bundle references missing policy",
				"bundle_id", action.ID, "policy_id", id)
			continue
		}
		if err != nil {
			return err
		}
		if pol.Community != action.Community {
			e.logger.Warn("bundle references policy outside its community",
				"bundle_id", action.ID, "policy_id", id)
			continue
		}
		if !pol.IsBundled {
			continue
		}
		pol.IsBundled = false
		if err := e.store.SavePolicy(ctx, pol); err != nil {
			return err
		}
		e.logger.Info("policy activated",
			"bundle_id", action.ID, "policy_id", id, "name", pol.Name)
	}
	return nil
}
