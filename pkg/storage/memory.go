package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/polisai/agora/pkg/domain"
)

// memTable is a mutex-guarded map of rows keyed by K. All Memory tables share
// this shape so each entity gets independent locking.
type memTable[K comparable, T any] struct {
	mu   sync.RWMutex
	rows map[K]*T
}

func newMemTable[K comparable, T any]() *memTable[K, T] {
	return &memTable[K, T]{rows: make(map[K]*T)}
}

func (t *memTable[K, T]) save(key K, row *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[key] = row
}

func (t *memTable[K, T]) get(key K) (*T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[key]
	return row, ok
}

func (t *memTable[K, T]) delete(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rows[key]
	if ok {
		delete(t.rows, key)
	}
	return ok
}

func (t *memTable[K, T]) list(keep func(*T) bool) []*T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*T, 0, len(t.rows))
	for _, row := range t.rows {
		if keep == nil || keep(row) {
			out = append(out, row)
		}
	}
	return out
}

type evalKey struct {
	actionID string
	policyID string
}

// Memory is the in-memory Store implementation. Rows are shared pointers;
// callers mutate and re-save under the engine's per-action serialisation.
type Memory struct {
	communities *memTable[string, domain.Community]
	members     *memTable[string, domain.Member]
	roles       *memTable[string, domain.Role]
	documents   *memTable[string, domain.Document]
	actions     *memTable[string, domain.Action]
	proposals   *memTable[string, domain.Proposal]
	policies    *memTable[string, domain.Policy]
	evaluations *memTable[evalKey, domain.Evaluation]

	voteMu    sync.RWMutex
	boolVotes map[string]map[string]*domain.BooleanVote
	numVotes  map[string]map[string]*domain.NumberVote

	auditMu sync.Mutex
	audit   map[string][]*domain.APICallRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		communities: newMemTable[string, domain.Community](),
		members:     newMemTable[string, domain.Member](),
		roles:       newMemTable[string, domain.Role](),
		documents:   newMemTable[string, domain.Document](),
		actions:     newMemTable[string, domain.Action](),
		proposals:   newMemTable[string, domain.Proposal](),
		policies:    newMemTable[string, domain.Policy](),
		evaluations: newMemTable[evalKey, domain.Evaluation](),
		boolVotes:   make(map[string]map[string]*domain.BooleanVote),
		numVotes:    make(map[string]map[string]*domain.NumberVote),
		audit:       make(map[string][]*domain.APICallRecord),
	}
}

var _ Store = (*Memory)(nil)

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, entity, id)
}

// SaveCommunity stores a community.
func (s *Memory) SaveCommunity(_ context.Context, c *domain.Community) error {
	s.communities.save(c.ID, c)
	return nil
}

// GetCommunity retrieves a community by ID.
func (s *Memory) GetCommunity(_ context.Context, id string) (*domain.Community, error) {
	c, ok := s.communities.get(id)
	if !ok {
		return nil, notFound("community", id)
	}
	return c, nil
}

// SaveMember stores a member.
func (s *Memory) SaveMember(_ context.Context, m *domain.Member) error {
	s.members.save(m.ID, m)
	return nil
}

// GetMember retrieves a member by ID.
func (s *Memory) GetMember(_ context.Context, id string) (*domain.Member, error) {
	m, ok := s.members.get(id)
	if !ok {
		return nil, notFound("member", id)
	}
	return m, nil
}

// ListMembers returns a community's members ordered by ID.
func (s *Memory) ListMembers(_ context.Context, community string) ([]*domain.Member, error) {
	out := s.members.list(func(m *domain.Member) bool { return m.Community == community })
	slices.SortFunc(out, func(a, b *domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// SaveRole stores a role.
func (s *Memory) SaveRole(_ context.Context, r *domain.Role) error {
	s.roles.save(r.ID, r)
	return nil
}

// GetRole retrieves a role by ID.
func (s *Memory) GetRole(_ context.Context, id string) (*domain.Role, error) {
	r, ok := s.roles.get(id)
	if !ok {
		return nil, notFound("role", id)
	}
	return r, nil
}

// DeleteRole removes a role.
func (s *Memory) DeleteRole(_ context.Context, id string) error {
	if !s.roles.delete(id) {
		return notFound("role", id)
	}
	return nil
}

// ListRoles returns a community's roles ordered by ID.
func (s *Memory) ListRoles(_ context.Context, community string) ([]*domain.Role, error) {
	out := s.roles.list(func(r *domain.Role) bool { return r.Community == community })
	slices.SortFunc(out, func(a, b *domain.Role) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// SaveDocument stores a document.
func (s *Memory) SaveDocument(_ context.Context, d *domain.Document) error {
	s.documents.save(d.ID, d)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Memory) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	d, ok := s.documents.get(id)
	if !ok {
		return nil, notFound("document", id)
	}
	return d, nil
}

// DeleteDocument removes a document.
func (s *Memory) DeleteDocument(_ context.Context, id string) error {
	if !s.documents.delete(id) {
		return notFound("document", id)
	}
	return nil
}

// ListDocuments returns a community's documents ordered by ID.
func (s *Memory) ListDocuments(_ context.Context, community string) ([]*domain.Document, error) {
	out := s.documents.list(func(d *domain.Document) bool { return d.Community == community })
	slices.SortFunc(out, func(a, b *domain.Document) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// SaveAction stores an action.
func (s *Memory) SaveAction(_ context.Context, a *domain.Action) error {
	s.actions.save(a.ID, a)
	return nil
}

// GetAction retrieves an action by ID.
func (s *Memory) GetAction(_ context.Context, id string) (*domain.Action, error) {
	a, ok := s.actions.get(id)
	if !ok {
		return nil, notFound("action", id)
	}
	return a, nil
}

// SaveProposal stores a proposal keyed by its action ID.
func (s *Memory) SaveProposal(_ context.Context, p *domain.Proposal) error {
	s.proposals.save(p.ActionID, p)
	return nil
}

// GetProposal retrieves the proposal for an action.
func (s *Memory) GetProposal(_ context.Context, actionID string) (*domain.Proposal, error) {
	p, ok := s.proposals.get(actionID)
	if !ok {
		return nil, notFound("proposal", actionID)
	}
	return p, nil
}

// ListPendingProposals returns all open proposals ordered by creation time
// then action ID.
func (s *Memory) ListPendingProposals(_ context.Context) ([]*domain.Proposal, error) {
	out := s.proposals.list(func(p *domain.Proposal) bool { return !p.Terminal() })
	slices.SortFunc(out, func(a, b *domain.Proposal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ActionID, b.ActionID)
	})
	return out, nil
}

// SaveEvaluation stores an (action, policy) evaluation record.
func (s *Memory) SaveEvaluation(_ context.Context, e *domain.Evaluation) error {
	s.evaluations.save(evalKey{e.ActionID, e.PolicyID}, e)
	return nil
}

// GetEvaluation retrieves the evaluation record for an (action, policy) pair.
func (s *Memory) GetEvaluation(_ context.Context, actionID, policyID string) (*domain.Evaluation, error) {
	e, ok := s.evaluations.get(evalKey{actionID, policyID})
	if !ok {
		return nil, notFound("evaluation", actionID+"/"+policyID)
	}
	return e, nil
}

// ListEvaluations returns every evaluation record of an action ordered by
// policy ID.
func (s *Memory) ListEvaluations(_ context.Context, actionID string) ([]*domain.Evaluation, error) {
	out := s.evaluations.list(func(e *domain.Evaluation) bool { return e.ActionID == actionID })
	slices.SortFunc(out, func(a, b *domain.Evaluation) int { return cmp.Compare(a.PolicyID, b.PolicyID) })
	return out, nil
}

// SavePolicy stores a policy.
func (s *Memory) SavePolicy(_ context.Context, p *domain.Policy) error {
	s.policies.save(p.ID, p)
	return nil
}

// GetPolicy retrieves a policy by ID.
func (s *Memory) GetPolicy(_ context.Context, id string) (*domain.Policy, error) {
	p, ok := s.policies.get(id)
	if !ok {
		return nil, notFound("policy", id)
	}
	return p, nil
}

// DeletePolicy removes a policy.
func (s *Memory) DeletePolicy(_ context.Context, id string) error {
	if !s.policies.delete(id) {
		return notFound("policy", id)
	}
	return nil
}

// ListPolicies returns a community's policies for one category in evaluation
// order: creation time, then ID.
func (s *Memory) ListPolicies(_ context.Context, community string, category domain.PolicyCategory) ([]*domain.Policy, error) {
	out := s.policies.list(func(p *domain.Policy) bool {
		return p.Community == community && p.Category == category
	})
	slices.SortFunc(out, func(a, b *domain.Policy) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SaveBooleanVote stores a boolean vote, replacing the member's earlier vote
// on the same proposal.
func (s *Memory) SaveBooleanVote(_ context.Context, v *domain.BooleanVote) error {
	s.voteMu.Lock()
	defer s.voteMu.Unlock()
	byMember, ok := s.boolVotes[v.ActionID]
	if !ok {
		byMember = make(map[string]*domain.BooleanVote)
		s.boolVotes[v.ActionID] = byMember
	}
	byMember[v.Member] = v
	return nil
}

// ListBooleanVotes returns a proposal's boolean votes ordered by cast time
// then member.
func (s *Memory) ListBooleanVotes(_ context.Context, actionID string) ([]*domain.BooleanVote, error) {
	s.voteMu.RLock()
	defer s.voteMu.RUnlock()
	out := make([]*domain.BooleanVote, 0, len(s.boolVotes[actionID]))
	for _, v := range s.boolVotes[actionID] {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *domain.BooleanVote) int {
		if c := a.CastAt.Compare(b.CastAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Member, b.Member)
	})
	return out, nil
}

// SaveNumberVote stores a number vote, replacing the member's earlier vote on
// the same proposal.
func (s *Memory) SaveNumberVote(_ context.Context, v *domain.NumberVote) error {
	s.voteMu.Lock()
	defer s.voteMu.Unlock()
	byMember, ok := s.numVotes[v.ActionID]
	if !ok {
		byMember = make(map[string]*domain.NumberVote)
		s.numVotes[v.ActionID] = byMember
	}
	byMember[v.Member] = v
	return nil
}

// ListNumberVotes returns a proposal's number votes ordered by cast time then
// member.
func (s *Memory) ListNumberVotes(_ context.Context, actionID string) ([]*domain.NumberVote, error) {
	s.voteMu.RLock()
	defer s.voteMu.RUnlock()
	out := make([]*domain.NumberVote, 0, len(s.numVotes[actionID]))
	for _, v := range s.numVotes[actionID] {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *domain.NumberVote) int {
		if c := a.CastAt.Compare(b.CastAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Member, b.Member)
	})
	return out, nil
}

// RecordAPICall appends an audit record for a community.
func (s *Memory) RecordAPICall(_ context.Context, rec *domain.APICallRecord) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.audit[rec.Community] = append(s.audit[rec.Community], rec)
	return nil
}

// ListAPICalls returns a community's audit trail in recording order.
func (s *Memory) ListAPICalls(_ context.Context, community string) ([]*domain.APICallRecord, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	return slices.Clone(s.audit[community]), nil
}

// Close is a no-op for the memory store.
func (s *Memory) Close() error {
	return nil
}
