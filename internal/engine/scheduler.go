package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"socialpulse.app/autopilot/common/id"
	"socialpulse.app/autopilot/common/logger"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/store"
)

var ErrAlreadyRunning = errors.New("automation is already running")

var minPollInterval = 5 * time.Second

// Scheduler owns the poll loop. It fires the workflow on a fixed interval,
// guarantees at most one cycle is ever in flight, and persists the durable
// state snapshot after every cycle and on every lifecycle transition.
type Scheduler struct {
	workflow   *Workflow
	state      *State
	stateStore store.AutomationStateStore
	activity   store.ActivityLogStore

	// ticking is the single-flight guard. A tick that finds it set is
	// dropped, not queued.
	ticking atomic.Bool

	// configCh wakes the poll loop so an interval change takes effect on the
	// wait already in progress.
	configCh chan struct{}

	mu        sync.Mutex
	running   bool
	stopping  bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(workflow *Workflow, stateStore store.AutomationStateStore, activity store.ActivityLogStore) *Scheduler {
	s := &Scheduler{
		workflow:   workflow,
		state:      workflow.State(),
		stateStore: stateStore,
		activity:   activity,
		configCh:   make(chan struct{}, 1),
	}
	workflow.SetStopper(s)
	return s
}

// Start launches the poll loop. The first cycle runs immediately; subsequent
// cycles follow the configured interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	stopCh, stoppedCh := s.stopCh, s.stoppedCh
	s.mu.Unlock()

	s.appendActivity(ctx, model.ActivityAutomationStarted, "automation started")
	s.persist(ctx, true)
	slog.InfoContext(ctx, "automation started",
		"poll_interval", s.state.Config().PollInterval.String())

	go s.run(stopCh, stoppedCh)
	return nil
}

// Stop halts the poll loop and waits for any in-flight cycle to finish.
// Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh
}

// RequestStop is the workflow's fatal-error escape hatch. It signals the loop
// to exit after the current cycle and returns without waiting, since the
// caller is the in-flight cycle itself.
func (s *Scheduler) RequestStop(ctx context.Context, reason string) {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	s.mu.Unlock()

	slog.ErrorContext(ctx, "automation stop requested", "reason", reason)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stopCh, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ctx := logger.WithLogFields(context.Background(), logger.LogFields{
		Component: "autopilot.engine.scheduler",
	})

	s.Tick(ctx)

	for {
		timer := time.NewTimer(s.pollInterval())
		select {
		case <-stopCh:
			timer.Stop()
			s.finishStop(ctx)
			return
		case <-s.configCh:
			// Interval changed mid-wait; re-arm with the new value.
			timer.Stop()
			continue
		case <-timer.C:
			s.Tick(ctx)
		}

		// A fatal error inside the cycle may have requested a stop.
		select {
		case <-stopCh:
			s.finishStop(ctx)
			return
		default:
		}
	}
}

func (s *Scheduler) finishStop(ctx context.Context) {
	s.appendActivity(ctx, model.ActivityAutomationStopped, "automation stopped")

	// Persist before clearing running: once running is false a new Start may
	// be admitted, and its running=true snapshot must not be overwritten by
	// this stop's stale one.
	s.persist(ctx, false)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	slog.InfoContext(ctx, "automation stopped")
}

// Tick runs one workflow cycle unless one is already in flight, in which case
// it is dropped entirely. The returned bool reports whether the cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.ticking.CompareAndSwap(false, true) {
		slog.WarnContext(ctx, "cycle still in flight, skipping tick")
		return false
	}
	defer s.ticking.Store(false)

	s.workflow.RunCycle(ctx)
	s.persist(ctx, s.Running())
	return true
}

// UpdateConfig applies a partial config change. It takes effect immediately:
// a wait already in progress is re-armed with the new interval. The running
// cycle is never interrupted.
func (s *Scheduler) UpdateConfig(ctx context.Context, fn func(cfg *model.AutomationConfig)) model.AutomationConfig {
	cfg := s.state.UpdateConfig(func(cfg *model.AutomationConfig) {
		fn(cfg)
		if cfg.PollInterval < minPollInterval {
			cfg.PollInterval = minPollInterval
		}
	})
	select {
	case s.configCh <- struct{}{}:
	default:
	}
	s.persist(ctx, s.Running())
	slog.InfoContext(ctx, "automation config updated",
		"tone", cfg.Tone,
		"poll_interval", cfg.PollInterval.String(),
		"monitor_all", cfg.MonitorAll,
		"selected_posts", len(cfg.SelectedPostIDs))
	return cfg
}

func (s *Scheduler) Status() *model.AutomationStatus {
	return &model.AutomationStatus{
		AutomationSnapshot: *s.state.Snapshot(s.Running()),
		PendingCount:       s.state.PendingCount(),
		ProcessedCount:     s.state.ProcessedLocalCount(),
		IsProcessing:       s.ticking.Load(),
	}
}

func (s *Scheduler) ResetStats(ctx context.Context) {
	s.state.ResetStats()
	s.persist(ctx, s.Running())
	slog.InfoContext(ctx, "automation stats reset")
}

// RestoreState loads the durable snapshot and resumes the poll loop when the
// process last stopped while running. A missing snapshot is a fresh install.
func (s *Scheduler) RestoreState(ctx context.Context) error {
	snapshot, err := s.stateStore.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading automation state: %w", err)
	}

	s.state.Restore(snapshot)
	slog.InfoContext(ctx, "automation state restored",
		"was_running", snapshot.Running,
		"replies_posted", snapshot.Stats.RepliesPosted)

	if snapshot.Running {
		return s.Start(ctx)
	}
	return nil
}

func (s *Scheduler) pollInterval() time.Duration {
	interval := s.state.Config().PollInterval
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return interval
}

func (s *Scheduler) persist(ctx context.Context, running bool) {
	if err := s.stateStore.Save(ctx, s.state.Snapshot(running)); err != nil {
		slog.ErrorContext(ctx, "failed to persist automation state", "error", err)
	}
}

func (s *Scheduler) appendActivity(ctx context.Context, typ model.ActivityType, message string) {
	entry := &model.ActivityEntry{
		ID:        id.New(),
		Type:      typ,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.activity.Append(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to append activity entry",
			"error", err, "entry_type", string(typ))
	}
}
