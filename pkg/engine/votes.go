package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/event"
)

// Tally aggregates boolean votes visible to one query scope.
type Tally struct {
	Yes   int
	No    int
	Total int
}

// NumberTally aggregates numeric votes as a value distribution.
type NumberTally struct {
	Values map[int]int
	Total  int
}

// Leader returns the value with the most votes; ties resolve to the lowest
// value. ok is false when no vote was counted.
func (t NumberTally) Leader() (int, bool) {
	if t.Total == 0 {
		return 0, false
	}
	best, bestCount := 0, -1
	for value, count := range t.Values {
		if count > bestCount || (count == bestCount && value < best) {
			best, bestCount = value, count
		}
	}
	return best, true
}

// CastBoolean records a yes/no vote on an open proposal. A member voting
// again replaces their earlier vote. Votes on terminal proposals are
// rejected with ErrProposalResolved; voters outside the action's community
// are rejected with ErrNotEligible.
func (e *Engine) CastBoolean(ctx context.Context, actionID, memberID string, value bool) error {
	action, err := e.voteEligibility(ctx, actionID, memberID)
	if err != nil {
		return err
	}
	vote := &domain.BooleanVote{
		ActionID: actionID,
		Member:   memberID,
		Value:    value,
		CastAt:   time.Now(),
	}
	if err := e.store.SaveBooleanVote(ctx, vote); err != nil {
		return err
	}
	e.logger.Debug("boolean vote cast",
		"action_id", actionID, "member", memberID, "value", value)
	e.publish(event.TypeVoteCast, event.VoteData{
		ActionID:  actionID,
		Community: action.Community,
		Member:    memberID,
	})
	return nil
}

// CastNumber records a numeric vote on an open proposal, replacing any
// earlier vote by the same member. Election bundles read the value as the
// index of the chosen member action.
func (e *Engine) CastNumber(ctx context.Context, actionID, memberID string, value int) error {
	action, err := e.voteEligibility(ctx, actionID, memberID)
	if err != nil {
		return err
	}
	vote := &domain.NumberVote{
		ActionID: actionID,
		Member:   memberID,
		Value:    value,
		CastAt:   time.Now(),
	}
	if err := e.store.SaveNumberVote(ctx, vote); err != nil {
		return err
	}
	e.logger.Debug("number vote cast",
		"action_id", actionID, "member", memberID, "value", value)
	e.publish(event.TypeVoteCast, event.VoteData{
		ActionID:  actionID,
		Community: action.Community,
		Member:    memberID,
	})
	return nil
}

// voteEligibility rejects votes on terminal proposals and votes from anyone
// outside the action's community.
func (e *Engine) voteEligibility(ctx context.Context, actionID, memberID string) (*domain.Action, error) {
	prop, err := e.store.GetProposal(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if prop.Terminal() {
		return nil, fmt.Errorf("%w: action %s", domain.ErrProposalResolved, actionID)
	}
	action, err := e.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	member, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown member %s", domain.ErrNotEligible, memberID)
		}
		return nil, err
	}
	if member.Community != action.Community {
		return nil, fmt.Errorf("%w: member %s is outside community %s",
			domain.ErrNotEligible, memberID, action.Community)
	}
	return action, nil
}

// BooleanTally counts yes/no votes on a proposal. A non-nil scope restricts
// the count to votes cast by the listed members; everyone else's votes are
// invisible to the query.
func (e *Engine) BooleanTally(ctx context.Context, actionID string, scope []string) (Tally, error) {
	votes, err := e.store.ListBooleanVotes(ctx, actionID)
	if err != nil {
		return Tally{}, err
	}
	return tallyBoolean(votes, memberSet(scope)), nil
}

// BooleanTallyByRole counts yes/no votes cast by members holding the role at
// query time. The community's base role covers every member implicitly.
func (e *Engine) BooleanTallyByRole(ctx context.Context, actionID, roleID string) (Tally, error) {
	votes, err := e.store.ListBooleanVotes(ctx, actionID)
	if err != nil {
		return Tally{}, err
	}
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return Tally{}, err
	}
	holders, err := e.roleHolders(ctx, role)
	if err != nil {
		return Tally{}, err
	}
	return tallyBoolean(votes, holders), nil
}

// NumberTallyFor builds the value distribution of numeric votes on a
// proposal, optionally restricted to an explicit member scope.
func (e *Engine) NumberTallyFor(ctx context.Context, actionID string, scope []string) (NumberTally, error) {
	votes, err := e.store.ListNumberVotes(ctx, actionID)
	if err != nil {
		return NumberTally{}, err
	}
	return tallyNumber(votes, memberSet(scope)), nil
}

// NumberTallyByRole builds the numeric vote distribution scoped to members
// holding the role at query time.
func (e *Engine) NumberTallyByRole(ctx context.Context, actionID, roleID string) (NumberTally, error) {
	votes, err := e.store.ListNumberVotes(ctx, actionID)
	if err != nil {
		return NumberTally{}, err
	}
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return NumberTally{}, err
	}
	holders, err := e.roleHolders(ctx, role)
	if err != nil {
		return NumberTally{}, err
	}
	return tallyNumber(votes, holders), nil
}

// roleHolders resolves the member set a role scopes to at query time. The
// community's base role implicitly covers every member.
func (e *Engine) roleHolders(ctx context.Context, role *domain.Role) (map[string]struct{}, error) {
	comm, err := e.store.GetCommunity(ctx, role.Community)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err == nil && comm.BaseRole == role.ID {
		members, err := e.store.ListMembers(ctx, role.Community)
		if err != nil {
			return nil, err
		}
		holders := make(map[string]struct{}, len(members))
		for _, m := range members {
			holders[m.ID] = struct{}{}
		}
		return holders, nil
	}
	holders := make(map[string]struct{}, len(role.Members))
	for _, id := range role.Members {
		holders[id] = struct{}{}
	}
	return holders, nil
}

// votesInput assembles the vote document hooks read. Role tallies are scoped
// by the engine before the hook runs, so a hook can never count votes cast
// outside the role it asks about.
func (e *Engine) votesInput(ctx context.Context, action *domain.Action) (map[string]any, error) {
	boolVotes, err := e.store.ListBooleanVotes(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	numVotes, err := e.store.ListNumberVotes(ctx, action.ID)
	if err != nil {
		return nil, err
	}

	all := tallyBoolean(boolVotes, nil)
	dist := tallyNumber(numVotes, nil)
	values := make(map[string]any, len(dist.Values))
	for value, count := range dist.Values {
		values[strconv.Itoa(value)] = count
	}

	roles, err := e.store.ListRoles(ctx, action.Community)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]any, len(roles))
	for _, role := range roles {
		holders, err := e.roleHolders(ctx, role)
		if err != nil {
			return nil, err
		}
		scoped := tallyBoolean(boolVotes, holders)
		byRole[role.Name] = map[string]any{
			"yes":   scoped.Yes,
			"no":    scoped.No,
			"total": scoped.Total,
		}
	}

	return map[string]any{
		"yes":          all.Yes,
		"no":           all.No,
		"total":        all.Total,
		"values":       values,
		"number_total": dist.Total,
		"by_role":      byRole,
	}, nil
}

// memberSet turns an explicit scope into a lookup set. A nil slice means
// unrestricted; an empty non-nil slice scopes to nobody.
func memberSet(ids []string) map[string]struct{} {
	if ids == nil {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func tallyBoolean(votes []*domain.BooleanVote, scope map[string]struct{}) Tally {
	var t Tally
	for _, v := range votes {
		if scope != nil {
			if _, ok := scope[v.Member]; !ok {
				continue
			}
		}
		if v.Value {
			t.Yes++
		} else {
			t.No++
		}
	}
	t.Total = t.Yes + t.No
	return t
}

func tallyNumber(votes []*domain.NumberVote, scope map[string]struct{}) NumberTally {
	t := NumberTally{Values: make(map[int]int)}
	for _, v := range votes {
		if scope != nil {
			if _, ok := scope[v.Member]; !ok {
				continue
			}
		}
		t.Values[v.Value]++
		t.Total++
	}
	return t
}
