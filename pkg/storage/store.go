// Package storage provides persistence for communities, actions, policies,
// votes, and the platform audit trail. The engine talks to the narrow
// per-entity interfaces; Store bundles them for wiring in main.
package storage

import (
	"context"

	"github.com/polisai/agora/pkg/domain"
)

// CommunityStore persists communities, members, roles, and documents.
type CommunityStore interface {
	SaveCommunity(ctx context.Context, c *domain.Community) error
	GetCommunity(ctx context.Context, id string) (*domain.Community, error)

	SaveMember(ctx context.Context, m *domain.Member) error
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	ListMembers(ctx context.Context, community string) ([]*domain.Member, error)

	SaveRole(ctx context.Context, r *domain.Role) error
	GetRole(ctx context.Context, id string) (*domain.Role, error)
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context, community string) ([]*domain.Role, error)

	SaveDocument(ctx context.Context, d *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, community string) ([]*domain.Document, error)
}

// ActionStore persists actions, their proposals, and the per-policy
// evaluation records that drive the lifecycle state machine.
type ActionStore interface {
	SaveAction(ctx context.Context, a *domain.Action) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)

	SaveProposal(ctx context.Context, p *domain.Proposal) error
	GetProposal(ctx context.Context, actionID string) (*domain.Proposal, error)
	// ListPendingProposals returns every non-terminal proposal ordered by
	// creation time; the scheduler drains this on each tick.
	ListPendingProposals(ctx context.Context) ([]*domain.Proposal, error)

	SaveEvaluation(ctx context.Context, e *domain.Evaluation) error
	GetEvaluation(ctx context.Context, actionID, policyID string) (*domain.Evaluation, error)
	ListEvaluations(ctx context.Context, actionID string) ([]*domain.Evaluation, error)
}

// PolicyStore persists governance and platform policies.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p *domain.Policy) error
	GetPolicy(ctx context.Context, id string) (*domain.Policy, error)
	DeletePolicy(ctx context.Context, id string) error
	// ListPolicies returns a community's policies for one category, dormant
	// ones included, ordered by creation time then ID. That order is the
	// evaluation order, so it must be stable.
	ListPolicies(ctx context.Context, community string, category domain.PolicyCategory) ([]*domain.Policy, error)
}

// VoteStore persists votes. Saving a vote for a (proposal, member) pair that
// already voted replaces the earlier vote.
type VoteStore interface {
	SaveBooleanVote(ctx context.Context, v *domain.BooleanVote) error
	ListBooleanVotes(ctx context.Context, actionID string) ([]*domain.BooleanVote, error)

	SaveNumberVote(ctx context.Context, v *domain.NumberVote) error
	ListNumberVotes(ctx context.Context, actionID string) ([]*domain.NumberVote, error)
}

// AuditStore records outbound platform calls in arrival order.
type AuditStore interface {
	RecordAPICall(ctx context.Context, rec *domain.APICallRecord) error
	ListAPICalls(ctx context.Context, community string) ([]*domain.APICallRecord, error)
}

// Store bundles every persistence interface the engine consumes.
type Store interface {
	CommunityStore
	ActionStore
	PolicyStore
	VoteStore
	AuditStore
	Close() error
}
