package engine_test

import (
	"context"
	"testing"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/engine"
	"github.com/polisai/agora/pkg/storage"
)

func seedGateCommunity(t *testing.T) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()

	must := func(err error) {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.SaveCommunity(ctx, &domain.Community{
		ID: "commons", Name: "The Commons", BaseRole: "base",
	}))
	must(store.SaveRole(ctx, &domain.Role{
		ID: "base", Community: "commons", Name: "Members",
		Capabilities: []string{domain.ProposeCapability(domain.KindAddDocument)},
	}))
	must(store.SaveRole(ctx, &domain.Role{
		ID: "editors", Community: "commons", Name: "Editors",
		Capabilities: []string{
			domain.ProposeCapability(domain.KindEditDocument),
			domain.ExecuteCapability(domain.KindAddDocument),
		},
		Members: []string{"bob"},
	}))
	members := []*domain.Member{
		{ID: "alice", Community: "commons", Admin: true},
		{ID: "bob", Community: "commons"},
		{ID: "carol", Community: "commons"},
	}
	for _, m := range members {
		must(store.SaveMember(ctx, m))
	}
	return store
}

func TestGateClassify(t *testing.T) {
	store := seedGateCommunity(t)
	gate := engine.NewGate(store)
	ctx := context.Background()

	member := func(id string) *domain.Member {
		m, err := store.GetMember(ctx, id)
		if err != nil {
			t.Fatalf("get member %s: %v", id, err)
		}
		return m
	}

	cases := []struct {
		name   string
		member string
		kind   domain.ActionKind
		want   engine.Decision
	}{
		{"admin executes anything", "alice", domain.KindDeleteRole, engine.DecisionExecuteAllowed},
		{"execute capability wins", "bob", domain.KindAddDocument, engine.DecisionExecuteAllowed},
		{"propose capability defers to review", "bob", domain.KindEditDocument, engine.DecisionReviewRequired},
		{"base role grants implicitly", "carol", domain.KindAddDocument, engine.DecisionReviewRequired},
		{"no capability denies", "carol", domain.KindDeleteRole, engine.DecisionProposeDenied},
		{"explicit role beats base silence", "bob", domain.KindDeleteRole, engine.DecisionProposeDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := gate.Classify(ctx, member(tc.member), tc.kind)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Classify(%s, %s) = %s, want %s", tc.member, tc.kind, got, tc.want)
			}
		})
	}
}

func TestGateMemberRolesIncludesBaseRole(t *testing.T) {
	store := seedGateCommunity(t)
	gate := engine.NewGate(store)
	ctx := context.Background()

	m, err := store.GetMember(ctx, "carol")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	roles, err := gate.MemberRoles(ctx, m)
	if err != nil {
		t.Fatalf("member roles: %v", err)
	}
	if len(roles) != 1 || roles[0].ID != "base" {
		t.Fatalf("carol should hold only the base role, got %v", roles)
	}

	m, err = store.GetMember(ctx, "bob")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	roles, err = gate.MemberRoles(ctx, m)
	if err != nil {
		t.Fatalf("member roles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("bob should hold base and editors, got %v", roles)
	}
}

func TestGateCapabilityEditsApplyImmediately(t *testing.T) {
	store := seedGateCommunity(t)
	gate := engine.NewGate(store)
	ctx := context.Background()

	m, err := store.GetMember(ctx, "carol")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if got, _ := gate.Classify(ctx, m, domain.KindDeleteRole); got != engine.DecisionProposeDenied {
		t.Fatalf("precondition: expected denial, got %s", got)
	}

	role, err := store.GetRole(ctx, "base")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	role.Capabilities = append(role.Capabilities, domain.ProposeCapability(domain.KindDeleteRole))
	if err := store.SaveRole(ctx, role); err != nil {
		t.Fatalf("save role: %v", err)
	}

	if got, _ := gate.Classify(ctx, m, domain.KindDeleteRole); got != engine.DecisionReviewRequired {
		t.Fatalf("capability edit must apply to the next classification, got %s", got)
	}
}
