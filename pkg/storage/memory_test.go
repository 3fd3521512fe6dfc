package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polisai/agora/pkg/domain"
)

func TestMemoryNotFound(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.GetCommunity(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("community lookup error = %v", err)
	}
	if _, err := s.GetProposal(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("proposal lookup error = %v", err)
	}
	if _, err := s.GetEvaluation(ctx, "a", "p"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("evaluation lookup error = %v", err)
	}
	if err := s.DeleteRole(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete role error = %v", err)
	}
}

func TestMemoryPolicyOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	// Same creation instant: ID breaks the tie. Later instant sorts last
	// regardless of ID.
	for _, p := range []*domain.Policy{
		{ID: "pol-b", Community: "c1", Category: domain.CategoryGovernance, CreatedAt: base},
		{ID: "pol-a", Community: "c1", Category: domain.CategoryGovernance, CreatedAt: base},
		{ID: "pol-0", Community: "c1", Category: domain.CategoryGovernance, CreatedAt: base.Add(time.Hour)},
		{ID: "pol-x", Community: "c1", Category: domain.CategoryPlatform, CreatedAt: base},
		{ID: "pol-y", Community: "c2", Category: domain.CategoryGovernance, CreatedAt: base},
	} {
		if err := s.SavePolicy(ctx, p); err != nil {
			t.Fatalf("save policy: %v", err)
		}
	}

	got, err := s.ListPolicies(ctx, "c1", domain.CategoryGovernance)
	if err != nil {
		t.Fatalf("list policies: %v", err)
	}
	want := []string{"pol-a", "pol-b", "pol-0"}
	if len(got) != len(want) {
		t.Fatalf("got %d policies, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMemoryPendingProposals(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	open := &domain.Proposal{ActionID: "a1", Status: domain.StatusProposed, CreatedAt: base.Add(time.Minute)}
	older := &domain.Proposal{ActionID: "a2", Status: domain.StatusProposed, CreatedAt: base}
	done := &domain.Proposal{ActionID: "a3", Status: domain.StatusPassed, CreatedAt: base}
	for _, p := range []*domain.Proposal{open, older, done} {
		if err := s.SaveProposal(ctx, p); err != nil {
			t.Fatalf("save proposal: %v", err)
		}
	}

	pending, err := s.ListPendingProposals(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d", len(pending))
	}
	if pending[0].ActionID != "a2" || pending[1].ActionID != "a1" {
		t.Fatalf("pending order = %s, %s", pending[0].ActionID, pending[1].ActionID)
	}
}

func TestMemoryVoteReplace(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()

	if err := s.SaveBooleanVote(ctx, &domain.BooleanVote{ActionID: "a1", Member: "m1", Value: true, CastAt: base}); err != nil {
		t.Fatalf("save vote: %v", err)
	}
	if err := s.SaveBooleanVote(ctx, &domain.BooleanVote{ActionID: "a1", Member: "m2", Value: true, CastAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("save vote: %v", err)
	}
	// m1 changes their mind; the earlier vote disappears.
	if err := s.SaveBooleanVote(ctx, &domain.BooleanVote{ActionID: "a1", Member: "m1", Value: false, CastAt: base.Add(2 * time.Second)}); err != nil {
		t.Fatalf("replace vote: %v", err)
	}

	votes, err := s.ListBooleanVotes(ctx, "a1")
	if err != nil {
		t.Fatalf("list votes: %v", err)
	}
	if len(votes) != 2 {
		t.Fatalf("vote count = %d, want 2", len(votes))
	}
	for _, v := range votes {
		if v.Member == "m1" && v.Value {
			t.Fatal("replaced vote still visible")
		}
	}
}

func TestMemoryAuditOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i, call := range []string{"channel.post", "channel.rename", "user.kick"} {
		rec := &domain.APICallRecord{Community: "c1", Call: call, At: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.RecordAPICall(ctx, rec); err != nil {
			t.Fatalf("record call: %v", err)
		}
	}

	calls, err := s.ListAPICalls(ctx, "c1")
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("call count = %d", len(calls))
	}
	if calls[0].Call != "channel.post" || calls[2].Call != "user.kick" {
		t.Fatalf("audit order wrong: %s, %s", calls[0].Call, calls[2].Call)
	}

	other, err := s.ListAPICalls(ctx, "c2")
	if err != nil || len(other) != 0 {
		t.Fatalf("foreign community audit = %v (%v)", other, err)
	}
}
