package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/engine"
	"github.com/polisai/agora/pkg/event"
	"github.com/polisai/agora/pkg/hook"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// awaitStatus polls until the proposal reaches the wanted status.
func awaitStatus(t *testing.T, f *fixture, actionID string, want domain.ProposalStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		prop, err := f.store.GetProposal(context.Background(), actionID)
		if err == nil && prop.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to become %s", actionID, want)
}

func TestSchedulerPromptsOnVoteCast(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := event.NewBus(nil, quietLogger())
	defer bus.Stop()

	f := newFixture(t, func(cfg *engine.Config) { cfg.Bus = bus })
	f.addPolicy(t, "pol-quorum", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(in hook.Input) (*hook.Result, error) {
			yes, _ := in.Votes["yes"].(int)
			if yes >= 1 {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})
	if _, err := f.engine.Propose(context.Background(), addRoleAction("a1", "bob")); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// An hour-long interval guarantees only the vote event can resolve it.
	sched := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   f.engine,
		Store:    f.store,
		Bus:      bus,
		Logger:   quietLogger(),
		Interval: time.Hour,
	})
	sched.Start(context.Background())
	defer sched.Stop()

	if err := f.engine.CastBoolean(context.Background(), "a1", "carol", true); err != nil {
		t.Fatalf("cast: %v", err)
	}
	awaitStatus(t, f, "a1", domain.StatusPassed)
}

func TestSchedulerSweepResolvesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	var ready atomic.Bool
	f.addPolicy(t, "pol-timer", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(hook.Input) (*hook.Result, error) {
			if ready.Load() {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})
	if _, err := f.engine.Propose(context.Background(), addRoleAction("a1", "bob")); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if got := f.proposalStatus(t, "a1"); got != domain.StatusProposed {
		t.Fatalf("expected open proposal, got %s", got)
	}

	sched := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   f.engine,
		Store:    f.store,
		Logger:   quietLogger(),
		Interval: 20 * time.Millisecond,
	})
	sched.Start(context.Background())
	defer sched.Stop()

	ready.Store(true)
	awaitStatus(t, f, "a1", domain.StatusPassed)
}

func TestSchedulerKeepsSweepingAfterBusStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := event.NewBus(nil, quietLogger())
	f := newFixture(t, func(cfg *engine.Config) { cfg.Bus = bus })

	var ready atomic.Bool
	f.addPolicy(t, "pol-timer", time.Now(), map[domain.HookStage]func(hook.Input) (*hook.Result, error){
		domain.StageCheck: func(hook.Input) (*hook.Result, error) {
			if ready.Load() {
				return &hook.Result{Verdict: domain.VerdictPassed}, nil
			}
			return &hook.Result{Verdict: domain.VerdictProposed}, nil
		},
	})
	if _, err := f.engine.Propose(context.Background(), addRoleAction("a1", "bob")); err != nil {
		t.Fatalf("propose: %v", err)
	}

	sched := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   f.engine,
		Store:    f.store,
		Bus:      bus,
		Logger:   quietLogger(),
		Interval: 20 * time.Millisecond,
	})
	sched.Start(context.Background())
	defer sched.Stop()

	// Stopping the bus closes the vote stream; the sweep must go on.
	bus.Stop()
	ready.Store(true)
	awaitStatus(t, f, "a1", domain.StatusPassed)
}

func TestSchedulerStopIsIdempotentAroundStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	sched := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   f.engine,
		Store:    f.store,
		Logger:   quietLogger(),
		Interval: time.Hour,
	})

	// Stop before Start is a no-op.
	sched.Stop()

	sched.Start(context.Background())
	sched.Stop()
}
