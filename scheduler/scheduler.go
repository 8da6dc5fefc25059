// Package scheduler triggers acquisition runs periodically, aborts runs
// that exceed their ceiling and sweeps expired posts.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/task"
)

// Channel is the subscriber channel of scheduled runs.
const Channel = "scheduler"

// Manager is the part of task.Manager the scheduler drives.
type Manager interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*models.Task, error)
	RunState() models.RuntimeStatus
	ResetTask(id, reason string) bool
}

// Sweeper deletes posts older than a threshold.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler owns one loop; nextRunAt is only written from it and from
// Tick.
type Scheduler struct {
	mgr     Manager
	sweeper Sweeper
	cfg     config.SchedulerConfig
	queries []string
	now     func() time.Time

	mu        sync.RWMutex
	active    bool
	nextRunAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a Scheduler. mgr may be nil when acquisition is disabled, in
// which case only the retention sweep runs. sweeper may be nil.
func New(mgr Manager, sweeper Sweeper, cfg config.SchedulerConfig, queries []string) *Scheduler {
	return &Scheduler{
		mgr:     mgr,
		sweeper: sweeper,
		cfg:     cfg,
		queries: append([]string(nil), queries...),
		now:     time.Now,
	}
}

// Start launches the loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.done = make(chan struct{})
	if s.triggerEnabled() {
		s.nextRunAt = s.now().Add(s.cfg.Interval)
	}
	done := s.done
	s.mu.Unlock()

	slog.Info("scheduler started",
		"interval", s.cfg.Interval,
		"trigger", s.triggerEnabled(),
		"run_on_start", s.cfg.RunOnStart,
		"stuck_after", s.cfg.StuckAfter,
		"retention", s.cfg.RetentionAge,
	)

	go s.loop(ctx, done)
}

// Stop ends the loop and waits for it to return. A run in flight is left
// to finish on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.nextRunAt = time.Time{}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var runC, healthC, sweepC <-chan time.Time
	if s.triggerEnabled() {
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		runC = t.C
	}
	if s.mgr != nil && s.cfg.HealthInterval > 0 && s.cfg.StuckAfter > 0 {
		t := time.NewTicker(s.cfg.HealthInterval)
		defer t.Stop()
		healthC = t.C
	}
	if s.sweeper != nil && s.cfg.RetentionAge > 0 && s.cfg.SweepInterval > 0 {
		t := time.NewTicker(s.cfg.SweepInterval)
		defer t.Stop()
		sweepC = t.C
	}

	if s.triggerEnabled() && s.cfg.RunOnStart {
		s.Tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-runC:
			s.Tick(ctx)
		case <-healthC:
			s.CheckHealth()
		case <-sweepC:
			s.Sweep(ctx)
		}
	}
}

func (s *Scheduler) triggerEnabled() bool {
	return s.mgr != nil && s.cfg.Enabled && s.cfg.Interval > 0 && len(s.queries) > 0
}

// Tick submits the default queries unless a run already holds the slot.
// It reports whether a run was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.mgr == nil {
		return false
	}
	s.mu.Lock()
	if s.active && s.cfg.Interval > 0 {
		s.nextRunAt = s.now().Add(s.cfg.Interval)
	}
	s.mu.Unlock()

	if st := s.mgr.RunState(); st.IsRunning {
		slog.Info("scheduled run skipped: acquisition in progress", "current_task_id", st.CurrentTaskID)
		return false
	}

	t, err := s.mgr.Submit(ctx, task.SubmitRequest{
		Queries:   s.queries,
		ChannelID: Channel,
		Origin:    models.OriginScheduler,
	})
	if err != nil {
		if models.HasCode(err, models.ErrCodeAlreadyRunning) {
			slog.Info("scheduled run skipped: acquisition in progress")
		} else {
			slog.Error("scheduled run not started", "error", err)
		}
		return false
	}
	slog.Info("scheduled run started", "task_id", t.ID, "queries", s.queries)
	return true
}

// CheckHealth force-resets a run older than StuckAfter. Only the run it
// observed is reset. It reports whether a reset happened.
func (s *Scheduler) CheckHealth() bool {
	if s.mgr == nil || s.cfg.StuckAfter <= 0 {
		return false
	}
	st := s.mgr.RunState()
	if !st.IsRunning || st.StartedAt == nil {
		return false
	}
	age := s.now().Sub(*st.StartedAt)
	if age <= s.cfg.StuckAfter {
		return false
	}

	slog.Warn("run exceeded ceiling, forcing reset",
		"task_id", st.CurrentTaskID,
		"age", age.Round(time.Second),
		"ceiling", s.cfg.StuckAfter,
	)
	return s.mgr.ResetTask(st.CurrentTaskID, "run exceeded "+s.cfg.StuckAfter.String())
}

// Sweep deletes posts older than RetentionAge.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	if s.sweeper == nil || s.cfg.RetentionAge <= 0 {
		return 0, nil
	}
	n, err := s.sweeper.Sweep(ctx, s.cfg.RetentionAge)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("retention sweep", "deleted", n, "older_than", s.cfg.RetentionAge)
	}
	return n, nil
}

// Status merges the manager's run state with the scheduler's own.
func (s *Scheduler) Status() models.RuntimeStatus {
	var st models.RuntimeStatus
	if s.mgr != nil {
		st = s.mgr.RunState()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.SchedulerActive = s.active && s.triggerEnabled()
	if st.SchedulerActive && !s.nextRunAt.IsZero() {
		n := s.nextRunAt
		st.NextRunAt = &n
	}
	return st
}
