package engine

import (
	"context"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/storage"
)

// Decision is the permission gate's classification of a proposed action.
type Decision string

const (
	// DecisionProposeDenied means the initiator may not even propose the
	// kind; the proposal fails at creation without running any policy.
	DecisionProposeDenied Decision = "propose_denied"
	// DecisionExecuteAllowed means the initiator may execute the kind
	// outright; the effect runs immediately and the proposal passes.
	DecisionExecuteAllowed Decision = "execute_allowed"
	// DecisionReviewRequired means the initiator may propose but not
	// execute; the policy pool decides.
	DecisionReviewRequired Decision = "review_required"
)

// Gate classifies proposals against role capabilities. It consults live role
// state on every call, so capability edits apply to the next proposal with no
// caching to invalidate.
type Gate struct {
	store storage.CommunityStore
}

// NewGate creates a permission gate over the community store.
func NewGate(store storage.CommunityStore) *Gate {
	return &Gate{store: store}
}

// Classify resolves the gate decision for one member proposing one kind.
// Execute capability wins over propose capability; admins hold every
// capability implicitly.
func (g *Gate) Classify(ctx context.Context, member *domain.Member, kind domain.ActionKind) (Decision, error) {
	if member.Admin {
		return DecisionExecuteAllowed, nil
	}

	roles, err := g.MemberRoles(ctx, member)
	if err != nil {
		return "", err
	}

	proposeCap := domain.ProposeCapability(kind)
	executeCap := domain.ExecuteCapability(kind)

	canPropose := false
	for _, role := range roles {
		if role.HasCapability(executeCap) {
			return DecisionExecuteAllowed, nil
		}
		if role.HasCapability(proposeCap) {
			canPropose = true
		}
	}
	if canPropose {
		return DecisionReviewRequired, nil
	}
	return DecisionProposeDenied, nil
}

// MemberRoles returns every role the member holds, including the community
// base role, which every member holds implicitly.
func (g *Gate) MemberRoles(ctx context.Context, member *domain.Member) ([]*domain.Role, error) {
	community, err := g.store.GetCommunity(ctx, member.Community)
	if err != nil {
		return nil, err
	}
	roles, err := g.store.ListRoles(ctx, member.Community)
	if err != nil {
		return nil, err
	}

	held := make([]*domain.Role, 0, len(roles))
	for _, role := range roles {
		if role.ID == community.BaseRole || role.HasMember(member.ID) {
			held = append(held, role)
		}
	}
	return held, nil
}
