package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/engine"
	"github.com/polisai/agora/pkg/hook"
)

func governanceBundle(id, initiator string, kind domain.BundleKind) *domain.Action {
	return &domain.Action{
		ID:        id,
		Community: "commons",
		Initiator: initiator,
		Kind:      domain.KindGovernanceBundle,
		Payload:   domain.GovernanceBundle{Bundle: domain.Bundle{BundleKind: kind}},
	}
}

func namedRoleAction(id, initiator, name string) *domain.Action {
	return &domain.Action{
		ID:        id,
		Community: "commons",
		Initiator: initiator,
		Kind:      domain.KindAddRole,
		Payload:   domain.AddRole{Name: name},
	}
}

func (f *fixture) roleNames(t *testing.T) map[string]bool {
	t.Helper()
	roles, err := f.store.ListRoles(context.Background(), "commons")
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	names := make(map[string]bool, len(roles))
	for _, r := range roles {
		names[r.Name] = true
	}
	return names
}

func TestProposeBundleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("not a bundle", func(t *testing.T) {
		_, err := f.engine.ProposeBundle(ctx, addRoleAction("a1", "alice"), nil)
		if !errors.Is(err, domain.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction, got %v", err)
		}
	})

	t.Run("nested bundle", func(t *testing.T) {
		bundle := governanceBundle("b1", "alice", domain.BundlePlain)
		inner := governanceBundle("b2", "alice", domain.BundlePlain)
		_, err := f.engine.ProposeBundle(ctx, bundle, []*domain.Action{inner})
		if !errors.Is(err, domain.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction, got %v", err)
		}
	})

	t.Run("member outside community", func(t *testing.T) {
		bundle := governanceBundle("b3", "alice", domain.BundlePlain)
		member := namedRoleAction("m1", "alice", "greeters")
		member.Community = "other"
		_, err := f.engine.ProposeBundle(ctx, bundle, []*domain.Action{member})
		if !errors.Is(err, domain.ErrCommunityMismatch) {
			t.Fatalf("expected ErrCommunityMismatch, got %v", err)
		}
	})

	t.Run("category mismatch", func(t *testing.T) {
		bundle := governanceBundle("b4", "alice", domain.BundlePlain)
		member := platformCallAction("m2", "alice")
		_, err := f.engine.ProposeBundle(ctx, bundle, []*domain.Action{member})
		if !errors.Is(err, domain.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction, got %v", err)
		}
	})

	t.Run("members and policies mixed", func(t *testing.T) {
		bundle := governanceBundle("b5", "alice", domain.BundlePlain)
		p := bundle.Payload.(domain.GovernanceBundle)
		p.Policies = []string{"pol-x"}
		bundle.Payload = p
		member := namedRoleAction("m3", "alice", "greeters")
		_, err := f.engine.ProposeBundle(ctx, bundle, []*domain.Action{member})
		if !errors.Is(err, domain.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction, got %v", err)
		}
	})
}

func TestPlainBundleExecutesEveryMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// dave could never propose add_role himself; as a bundle member his
	// action skips the gate and rides on the bundle's authorization.
	members := []*domain.Action{
		namedRoleAction("m1", "dave", "greeters"),
		namedRoleAction("m2", "dave", "stewards"),
	}
	prop, err := f.engine.ProposeBundle(ctx, governanceBundle("b1", "alice", domain.BundlePlain), members)
	if err != nil {
		t.Fatalf("propose bundle: %v", err)
	}
	if prop.Status != domain.StatusPassed {
		t.Fatalf("expected bundle passed, got %s", prop.Status)
	}

	names := f.roleNames(t)
	if !names["greeters"] || !names["stewards"] {
		t.Fatalf("expected both member effects, got %v", names)
	}
	for _, id := range []string{"m1", "m2"} {
		if got := f.proposalStatus(t, id); got != domain.StatusPassed {
			t.Fatalf("member %s: expected passed, got %s", id, got)
		}
		action, err := f.store.GetAction(ctx, id)
		if err != nil {
			t.Fatalf("get action %s: %v", id, err)
		}
		if !action.IsBundled {
			t.Fatalf("member %s must stay marked as bundled", id)
		}
	}
	if len(f.hooks.calls) != 0 {
		t.Fatalf("members must never run hooks, got %v", f.hooks.calls)
	}
}

func TestPlainBundleContinuesPastFailedMember(t *testing.T) {
	p := &fakePlatform{failFor: map[string]error{
		"m2": fmt.Errorf("channel already exists"),
	}}
	f := newFixture(t, func(cfg *engine.Config) { cfg.Platform = p })
	ctx := context.Background()

	bundle := &domain.Action{
		ID:        "b1",
		Community: "commons",
		Initiator: "alice",
		Kind:      domain.KindPlatformBundle,
		Payload:   domain.PlatformBundle{Bundle: domain.Bundle{BundleKind: domain.BundlePlain}},
	}
	members := []*domain.Action{
		platformCallAction("m1", "alice"),
		platformCallAction("m2", "alice"),
		platformCallAction("m3", "alice"),
	}
	prop, err := f.engine.ProposeBundle(ctx, bundle, members)
	if err != nil {
		t.Fatalf("propose bundle: %v", err)
	}

	// Best effort: the failing member must not stop the walk.
	wantCalls := []string{"m1", "m2", "m3"}
	if len(p.execCalls) != len(wantCalls) {
		t.Fatalf("expected calls %v, got %v", wantCalls, p.execCalls)
	}
	for i, id := range wantCalls {
		if p.execCalls[i] != id {
			t.Fatalf("expected calls %v, got %v", wantCalls, p.execCalls)
		}
	}

	if got := f.proposalStatus(t, "m1"); got != domain.StatusPassed {
		t.Fatalf("m1: expected passed, got %s", got)
	}
	if got := f.proposalStatus(t, "m3"); got != domain.StatusPassed {
		t.Fatalf("m3: expected passed, got %s", got)
	}
	if got := f.proposalStatus(t, "m2"); got != domain.StatusFailed {
		t.Fatalf("m2: expected failed, got %s", got)
	}
	m2, err := f.store.GetAction(ctx, "m2")
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if _, ok := m2.Data.Get("effect_error"); !ok {
		t.Fatalf("failed member must record its effect error")
	}

	// One failed member fails the bundle as a whole.
	if prop.Status != domain.StatusFailed {
		t.Fatalf("expected bundle failed, got %s", prop.Status)
	}
}

func TestElectionExecutesOnlyWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addPolicy(t, "pol-ballot", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(in hook.Input) (*hook.Result, error) {
			total, _ := in.Votes["number_total"].(int)
			if total >= 3 {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})

	members := []*domain.Action{
		namedRoleAction("m1", "bob", "greeters"),
		namedRoleAction("m2", "bob", "stewards"),
		namedRoleAction("m3", "bob", "keepers"),
	}
	prop, err := f.engine.ProposeBundle(ctx, governanceBundle("b1", "bob", domain.BundleElection), members)
	if err != nil {
		t.Fatalf("propose bundle: %v", err)
	}
	if prop.Status != domain.StatusProposed {
		t.Fatalf("bundle must stay open for ballots, got %s", prop.Status)
	}

	// Two ballots for index 2, one for index 0.
	for member, choice := range map[string]int{"alice": 2, "carol": 2, "dave": 0} {
		if err := f.engine.CastNumber(ctx, "b1", member, choice); err != nil {
			t.Fatalf("cast %s: %v", member, err)
		}
	}
	if err := f.engine.Reevaluate(ctx, "b1"); err != nil {
		t.Fatalf("reevaluate: %v", err)
	}
	if got := f.proposalStatus(t, "b1"); got != domain.StatusPassed {
		t.Fatalf("expected bundle passed, got %s", got)
	}

	names := f.roleNames(t)
	if !names["keepers"] {
		t.Fatalf("winner effect must run, got %v", names)
	}
	if names["greeters"] || names["stewards"] {
		t.Fatalf("losers must not execute, got %v", names)
	}
	for _, id := range []string{"m1", "m2"} {
		if got := f.proposalStatus(t, id); got != domain.StatusFailed {
			t.Fatalf("loser %s: expected failed, got %s", id, got)
		}
		action, _ := f.store.GetAction(ctx, id)
		if reason, _ := action.Data.Get("effect_error"); reason != "lost election" {
			t.Fatalf("loser %s: expected lost election, got %v", id, reason)
		}
	}
	if got := f.proposalStatus(t, "m3"); got != domain.StatusPassed {
		t.Fatalf("winner: expected passed, got %s", got)
	}
}

func TestElectionTieFallsToLowestIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addPolicy(t, "pol-ballot", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(in hook.Input) (*hook.Result, error) {
			total, _ := in.Votes["number_total"].(int)
			if total >= 3 {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})

	members := []*domain.Action{
		namedRoleAction("m1", "bob", "greeters"),
		namedRoleAction("m2", "bob", "stewards"),
	}
	if _, err := f.engine.ProposeBundle(ctx, governanceBundle("b1", "bob", domain.BundleElection), members); err != nil {
		t.Fatalf("propose bundle: %v", err)
	}

	// One ballot per index plus one out of range; the tie resolves to the
	// lowest index and the stray ballot counts for nobody.
	for member, choice := range map[string]int{"alice": 1, "carol": 0, "dave": 9} {
		if err := f.engine.CastNumber(ctx, "b1", member, choice); err != nil {
			t.Fatalf("cast %s: %v", member, err)
		}
	}
	if err := f.engine.Reevaluate(ctx, "b1"); err != nil {
		t.Fatalf("reevaluate: %v", err)
	}

	names := f.roleNames(t)
	if !names["greeters"] || names["stewards"] {
		t.Fatalf("expected index 0 to win the tie, got %v", names)
	}
}

func TestElectionWithoutBallotsExecutesFirstMember(t *testing.T) {
	f := newFixture(t)

	members := []*domain.Action{
		namedRoleAction("m1", "alice", "greeters"),
		namedRoleAction("m2", "alice", "stewards"),
	}
	prop, err := f.engine.ProposeBundle(context.Background(), governanceBundle("b1", "alice", domain.BundleElection), members)
	if err != nil {
		t.Fatalf("propose bundle: %v", err)
	}
	if prop.Status != domain.StatusPassed {
		t.Fatalf("expected bundle passed, got %s", prop.Status)
	}

	names := f.roleNames(t)
	if !names["greeters"] || names["stewards"] {
		t.Fatalf("expected the first member by default, got %v", names)
	}
}

func TestPlainPolicyBundleActivatesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Dormant policies ride into the pool through ordinary policy actions.
	ids := make([]string, 0, 2)
	for i, name := range []string{"quorum", "veto"} {
		add := adminAction(fmt.Sprintf("a%d", i+1), domain.AddGovernancePolicy{
			Spec: domain.PolicySpec{Name: name, IsBundled: true},
		})
		proposeAs(t, f, add)
		pid, _ := add.Data.Get("policy_id")
		ids = append(ids, pid.(string))
	}
	foreign := &domain.Policy{
		ID: "pol-foreign", Community: "other", Category: domain.CategoryGovernance,
		Name: "foreign", Hooks: hook.DefaultHooks(), Data: domain.NewDataStore(),
		IsBundled: true, CreatedAt: time.Now(),
	}
	if err := f.store.SavePolicy(ctx, foreign); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	bundle := governanceBundle("b1", "alice", domain.BundlePlain)
	p := bundle.Payload.(domain.GovernanceBundle)
	p.Policies = append(append([]string{}, ids...), "pol-ghost", "pol-foreign")
	bundle.Payload = p
	prop, err := f.engine.Propose(ctx, bundle)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if prop.Status != domain.StatusPassed {
		t.Fatalf("expected bundle passed, got %s", prop.Status)
	}

	for _, id := range ids {
		pol, err := f.store.GetPolicy(ctx, id)
		if err != nil {
			t.Fatalf("get policy: %v", err)
		}
		if pol.IsBundled {
			t.Fatalf("policy %s must be active", id)
		}
	}
	foreign, err = f.store.GetPolicy(ctx, "pol-foreign")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if !foreign.IsBundled {
		t.Fatalf("a policy outside the community must stay dormant")
	}
}

func TestElectionPolicyBundleActivatesWinnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addPolicy(t, "pol-ballot", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(in hook.Input) (*hook.Result, error) {
			total, _ := in.Votes["number_total"].(int)
			if total >= 2 {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})

	ids := make([]string, 0, 3)
	for i, name := range []string{"gentle", "moderate", "strict"} {
		add := adminAction(fmt.Sprintf("a%d", i+1), domain.AddGovernancePolicy{
			Spec: domain.PolicySpec{Name: name, IsBundled: true},
		})
		proposeAs(t, f, add)
		pid, _ := add.Data.Get("policy_id")
		ids = append(ids, pid.(string))
	}

	bundle := governanceBundle("b1", "bob", domain.BundleElection)
	p := bundle.Payload.(domain.GovernanceBundle)
	p.Policies = ids
	bundle.Payload = p
	if _, err := f.engine.Propose(ctx, bundle); err != nil {
		t.Fatalf("propose: %v", err)
	}

	for member, choice := range map[string]int{"alice": 1, "carol": 1} {
		if err := f.engine.CastNumber(ctx, "b1", member, choice); err != nil {
			t.Fatalf("cast %s: %v", member, err)
		}
	}
	if err := f.engine.Reevaluate(ctx, "b1"); err != nil {
		t.Fatalf("reevaluate: %v", err)
	}
	if got := f.proposalStatus(t, "b1"); got != domain.StatusPassed {
		t.Fatalf("expected bundle passed, got %s", got)
	}

	for i, id := range ids {
		pol, err := f.store.GetPolicy(ctx, id)
		if err != nil {
			t.Fatalf("get policy: %v", err)
		}
		active := !pol.IsBundled
		if want := i == 1; active != want {
			t.Fatalf("policy %d: active=%v, want %v", i, active, want)
		}
	}
}

func TestBundledMemberIsInertUntilBundleResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addPolicy(t, "pol-hold", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(in hook.Input) (*hook.Result, error) {
			yes, _ := in.Votes["yes"].(int)
			if yes >= 1 {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})

	members := []*domain.Action{namedRoleAction("m1", "bob", "greeters")}
	if _, err := f.engine.ProposeBundle(ctx, governanceBundle("b1", "bob", domain.BundlePlain), members); err != nil {
		t.Fatalf("propose bundle: %v", err)
	}
	if got := f.proposalStatus(t, "m1"); got != domain.StatusProposed {
		t.Fatalf("member must wait for its bundle, got %s", got)
	}

	// Re-evaluating the member directly must not wake it up.
	checksBefore := f.hooks.stageCalls("pol-hold", domain.StageCheck)
	if err := f.engine.Reevaluate(ctx, "m1"); err != nil {
		t.Fatalf("reevaluate member: %v", err)
	}
	if got := f.hooks.stageCalls("pol-hold", domain.StageCheck); got != checksBefore {
		t.Fatalf("member re-evaluation must not run policies, checks %d -> %d", checksBefore, got)
	}
	if got := f.proposalStatus(t, "m1"); got != domain.StatusProposed {
		t.Fatalf("member must still be waiting, got %s", got)
	}

	if err := f.engine.CastBoolean(ctx, "b1", "carol", true); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := f.engine.Reevaluate(ctx, "b1"); err != nil {
		t.Fatalf("reevaluate bundle: %v", err)
	}
	if got := f.proposalStatus(t, "m1"); got != domain.StatusPassed {
		t.Fatalf("member must resolve with its bundle, got %s", got)
	}
	if !f.roleNames(t)["greeters"] {
		t.Fatalf("member effect must run when the bundle passes")
	}
}

func TestBundleSkipsDanglingMembers(t *testing.T) {
	f := newFixture(t)

	bundle := governanceBundle("b1", "alice", domain.BundlePlain)
	p := bundle.Payload.(domain.GovernanceBundle)
	p.Actions = []string{"ghost-1", "ghost-2"}
	bundle.Payload = p

	prop, err := f.engine.Propose(context.Background(), bundle)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if prop.Status != domain.StatusPassed {
		t.Fatalf("dangling members are skipped, not failures; got %s", prop.Status)
	}
}
