// Package task owns acquisition tasks: admission through a single run
// slot, the pending → running → completed|failed lifecycle, the store
// commit and the terminal event.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/tweetscope/models"
)

// maxQueries bounds one task.
const maxQueries = 20

// Runner executes the queries of one run.
type Runner interface {
	Run(ctx context.Context, queries []string) ([]models.QueryResult, error)
}

// PostWriter persists the posts of a finished run.
type PostWriter interface {
	UpsertPosts(ctx context.Context, posts []models.Post) (int, error)
}

// Publisher delivers terminal events to a channel's subscribers.
type Publisher interface {
	Publish(channel string, ev models.Event)
}

// SubmitRequest asks for one acquisition run.
type SubmitRequest struct {
	Queries   []string
	ChannelID string
	Origin    string
}

// run is the bookkeeping of the task currently holding the slot.
type run struct {
	task      *models.Task
	cancel    context.CancelFunc
	release   func()
	startedAt time.Time

	// resetting is held while a forced reset tears the run down.
	resetting sync.Mutex
}

// Manager admits at most one run at a time process-wide. A request that
// arrives while a run holds the slot is rejected, never queued.
type Manager struct {
	runner Runner
	writer PostWriter
	pub    Publisher
	ttl    time.Duration

	// slot has capacity one; holding a token is holding the right to run.
	slot chan struct{}

	mu        sync.RWMutex
	tasks     map[string]*models.Task
	current   *run
	lastRunAt time.Time

	resetHook  func() error
	commitHook func(inserted int)
	now        func() time.Time

	wg sync.WaitGroup
}

// NewManager wires a Manager. Finished tasks older than ttl are pruned
// from memory; ttl <= 0 keeps them forever.
func NewManager(runner Runner, writer PostWriter, pub Publisher, ttl time.Duration) *Manager {
	return &Manager{
		runner: runner,
		writer: writer,
		pub:    pub,
		ttl:    ttl,
		slot:   make(chan struct{}, 1),
		tasks:  make(map[string]*models.Task),
		now:    time.Now,
	}
}

// SetResetHook sets the function ForceReset calls to tear down the
// browsing resource.
func (m *Manager) SetResetHook(fn func() error) {
	m.resetHook = fn
}

// SetCommitHook sets the function called after a run's posts are
// committed.
func (m *Manager) SetCommitHook(fn func(inserted int)) {
	m.commitHook = fn
}

// Submit registers a task and starts its run in the background. It
// returns ALREADY_RUNNING without side effects when the slot is taken.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queries := normalizeQueries(req.Queries)
	if len(queries) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "at least one non-empty query is required", nil)
	}
	if len(queries) > maxQueries {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("at most %d queries per task", maxQueries), nil)
	}
	channel := req.ChannelID
	if channel == "" {
		channel = "default"
	}
	origin := req.Origin
	if origin == "" {
		origin = models.OriginAPI
	}

	// ── 1. Acquire the slot (non-blocking) ───────────────────────────
	select {
	case m.slot <- struct{}{}:
	default:
		return nil, models.NewScrapeError(models.ErrCodeAlreadyRunning, "an acquisition is already running", nil)
	}

	// ── 2. Register ──────────────────────────────────────────────────
	t := models.NewTask(uuid.NewString(), channel, origin, queries)
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{task: t, cancel: cancel}

	var once sync.Once
	r.release = func() {
		once.Do(func() {
			m.mu.Lock()
			if m.current == r {
				m.current = nil
			}
			m.mu.Unlock()
			<-m.slot
		})
	}

	m.mu.Lock()
	m.pruneLocked()
	m.tasks[t.ID] = t
	m.current = r
	m.mu.Unlock()

	slog.Info("acquisition submitted",
		"task_id", t.ID,
		"channel", channel,
		"origin", origin,
		"queries", queries,
	)

	// ── 3. Run in the background ─────────────────────────────────────
	m.wg.Add(1)
	go m.execute(runCtx, r)
	return t, nil
}

func (m *Manager) execute(ctx context.Context, r *run) {
	defer m.wg.Done()
	defer func() {
		r.resetting.Lock()
		r.release()
		r.resetting.Unlock()
	}()
	defer r.cancel()

	t := r.task
	start := m.now()
	if !t.MarkRunning(start) {
		return
	}
	m.mu.Lock()
	r.startedAt = start
	m.mu.Unlock()

	results, err := m.runner.Run(ctx, t.Queries)
	recorded := stripPosts(results)
	if err != nil {
		m.fail(r, recorded, err.Error())
		return
	}

	// ── Merge successful queries ─────────────────────────────────────
	collected := 0
	succeeded := 0
	var posts []models.Post
	for _, res := range results {
		if res.Status != models.QuerySuccess {
			continue
		}
		succeeded++
		collected += res.Collected
		posts = append(posts, res.Posts...)
	}
	if succeeded == 0 {
		msg := models.NewScrapeError(models.ErrCodeQueryExhausted,
			fmt.Sprintf("all %d queries failed", len(results)), nil).Error()
		m.fail(r, recorded, msg)
		return
	}

	// ── Commit ───────────────────────────────────────────────────────
	inserted, err := m.writer.UpsertPosts(ctx, uniqueByID(posts))
	if err != nil {
		m.fail(r, recorded, models.NewScrapeError(models.ErrCodeStore, "failed to store posts", err).Error())
		return
	}

	if !t.Complete(m.now(), recorded, collected, inserted) {
		slog.Warn("run finished after task was closed", "task_id", t.ID)
		return
	}
	m.markLastRun()
	r.release()

	if m.commitHook != nil {
		m.commitHook(inserted)
	}
	view := t.Snapshot()
	slog.Info("acquisition completed",
		"task_id", t.ID,
		"collected", collected,
		"inserted", inserted,
		"succeeded", succeeded,
		"failed", len(results)-succeeded,
		"duration_ms", view.DurationMs,
	)
	m.pub.Publish(t.ChannelID, models.EventFor(view))
}

// fail records the failure, frees the slot and publishes the event, in
// that order. A task already closed by ForceReset is left untouched.
func (m *Manager) fail(r *run, results []models.QueryResult, msg string) {
	t := r.task
	if !t.Fail(m.now(), results, msg) {
		slog.Warn("run finished after task was closed", "task_id", t.ID, "error", msg)
		return
	}
	m.markLastRun()
	r.release()

	slog.Error("acquisition failed", "task_id", t.ID, "error", msg)
	m.pub.Publish(t.ChannelID, models.EventFor(t.Snapshot()))
}

// ForceReset aborts the current run: its task fails with STUCK_RUN, the
// reset hook tears the browser down and the slot is freed. It reports
// whether a run was aborted.
func (m *Manager) ForceReset(reason string) bool {
	return m.reset("", reason)
}

// ResetTask is ForceReset limited to the run of task id. It does nothing
// when another run, or none, holds the slot.
func (m *Manager) ResetTask(id, reason string) bool {
	if id == "" {
		return false
	}
	return m.reset(id, reason)
}

func (m *Manager) reset(id, reason string) bool {
	m.mu.RLock()
	r := m.current
	m.mu.RUnlock()
	if r == nil || (id != "" && r.task.ID != id) {
		return false
	}

	// Closing the task first keeps a run that is finishing on its own
	// from being torn down. The slot stays held until the hook returns.
	r.resetting.Lock()
	defer r.resetting.Unlock()
	msg := models.NewScrapeError(models.ErrCodeStuckRun, reason, nil).Error()
	if !r.task.Fail(m.now(), nil, msg) {
		return false
	}

	if m.resetHook != nil {
		if err := m.resetHook(); err != nil {
			slog.Error("reset hook failed", "task_id", r.task.ID, "error", err)
		}
	}
	r.cancel()
	m.markLastRun()
	r.release()

	slog.Warn("acquisition force reset", "task_id", r.task.ID, "reason", reason)
	m.pub.Publish(r.task.ChannelID, models.EventFor(r.task.Snapshot()))
	return true
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id string) (models.TaskView, bool) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return models.TaskView{}, false
	}
	return t.Snapshot(), true
}

// List returns snapshots of every retained task, newest first.
func (m *Manager) List() []models.TaskView {
	m.mu.RLock()
	views := make([]models.TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		views = append(views, t.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Running reports whether a run holds the slot.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// RunState is the slot part of the runtime status.
func (m *Manager) RunState() models.RuntimeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st models.RuntimeStatus
	if m.current != nil {
		st.IsRunning = true
		st.CurrentTaskID = m.current.task.ID
		if !m.current.startedAt.IsZero() {
			s := m.current.startedAt
			st.StartedAt = &s
		}
	}
	if !m.lastRunAt.IsZero() {
		l := m.lastRunAt
		st.LastRunAt = &l
	}
	return st
}

// Wait blocks until every run goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) markLastRun() {
	m.mu.Lock()
	m.lastRunAt = m.now()
	m.mu.Unlock()
}

// pruneLocked drops finished tasks older than ttl. m.mu must be held.
func (m *Manager) pruneLocked() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	for id, t := range m.tasks {
		v := t.Snapshot()
		if v.Status.Terminal() && v.CompletedAt != nil && v.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}

func normalizeQueries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// uniqueByID keeps the first position of each id with its latest data.
func uniqueByID(posts []models.Post) []models.Post {
	idx := make(map[string]int, len(posts))
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if i, ok := idx[p.ID]; ok {
			out[i] = p
			continue
		}
		idx[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// stripPosts copies results without their post payloads, which are not
// kept on the task record.
func stripPosts(results []models.QueryResult) []models.QueryResult {
	if results == nil {
		return nil
	}
	out := make([]models.QueryResult, len(results))
	for i, r := range results {
		r.Posts = nil
		out[i] = r
	}
	return out
}
