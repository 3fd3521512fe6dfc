package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"github.com/polisai/agora/pkg/event"
	"github.com/polisai/agora/pkg/storage"
)

// DefaultSweepInterval is how often the scheduler walks open proposals when
// the configuration does not override it.
const DefaultSweepInterval = 30 * time.Second

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Engine *Engine
	Store  storage.ActionStore
	Bus    *event.Bus
	Logger *slog.Logger

	// Interval between sweeps; zero keeps the default.
	Interval time.Duration
}

// Scheduler drives open proposals toward resolution. A periodic sweep
// re-evaluates every pending proposal, and vote events trigger a prompt
// re-evaluation of the voted action so a deciding ballot lands without
// waiting for the next tick.
type Scheduler struct {
	engine   *Engine
	store    storage.ActionStore
	bus      *event.Bus
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. Engine and Store are required; without a
// Bus only the periodic sweep runs.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		engine:   cfg.Engine,
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the scheduler loop. The loop stops when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	var (
		subID  event.SubscriberID
		voteCh <-chan event.Event
	)
	if s.bus != nil {
		subID, voteCh = s.bus.Subscribe(event.TypeVoteCast)
	}

	go s.run(ctx, subID, voteCh)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for it to drain. Safe to call once after
// Start.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, subID event.SubscriberID, voteCh <-chan event.Event) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.bus != nil {
				s.bus.Unsubscribe(event.TypeVoteCast, subID)
			}
			return
		case evt, ok := <-voteCh:
			if !ok {
				// Bus stopped under us; keep sweeping.
				voteCh = nil
				continue
			}
			if data, ok := evt.Data.(event.VoteData); ok {
				s.reevaluate(ctx, data.ActionID)
			}
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep re-evaluates every open proposal. Evaluation faults are logged and
// skipped; the next tick retries them.
func (s *Scheduler) sweep(ctx context.Context) {
	pending, err := s.store.ListPendingProposals(ctx)
	if err != nil {
		s.logger.Error("sweep could not list pending proposals", "error", err)
		return
	}
	for _, prop := range pending {
		if ctx.Err() != nil {
			return
		}
		s.reevaluate(ctx, prop.ActionID)
	}
	if len(pending) > 0 {
		s.logger.Debug("sweep complete", "pending", len(pending))
	}
}

func (s *Scheduler) reevaluate(ctx context.Context, actionID string) {
	err := s.engine.Reevaluate(ctx, actionID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		// Proposal vanished between listing and evaluation.
	case ctx.Err() != nil:
	default:
		s.logger.Warn("re-evaluation failed",
			"action_id", actionID, "error", err)
	}
}
