package models

import (
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of an acquisition task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task origins.
const (
	OriginAPI       = "api"
	OriginScheduler = "scheduler"
	OriginCLI       = "cli"
)

// QueryStatus is the outcome of one query within a task.
type QueryStatus string

const (
	QuerySuccess QueryStatus = "success"
	QueryFailed  QueryStatus = "failed"
)

// QueryResult is the per-query detail recorded on a task.
type QueryResult struct {
	Query      string      `json:"query"`
	Status     QueryStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	Collected  int         `json:"collected"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`

	// Posts are the collected posts; only set on success.
	Posts []Post `json:"-"`
}

// Task tracks one acquisition request. All mutation goes through the
// transition methods, which enforce pending → running → completed|failed.
type Task struct {
	mu sync.RWMutex

	ID        string
	ChannelID string
	Origin    string
	Queries   []string

	status         TaskStatus
	createdAt      time.Time
	startedAt      time.Time
	completedAt    time.Time
	results        []QueryResult
	totalCollected int
	totalInserted  int
	err            string
}

// NewTask creates a pending task.
func NewTask(id, channelID, origin string, queries []string) *Task {
	return &Task{
		ID:        id,
		ChannelID: channelID,
		Origin:    origin,
		Queries:   append([]string(nil), queries...),
		status:    TaskPending,
		createdAt: time.Now(),
	}
}

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// MarkRunning moves a pending task to running.
func (t *Task) MarkRunning(at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskPending {
		return false
	}
	t.status = TaskRunning
	t.startedAt = at
	return true
}

// Complete moves a non-terminal task to completed. It returns false if the
// task had already reached a terminal state.
func (t *Task) Complete(at time.Time, results []QueryResult, collected, inserted int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = TaskCompleted
	t.completedAt = at
	t.results = results
	t.totalCollected = collected
	t.totalInserted = inserted
	return true
}

// Fail moves a non-terminal task to failed. It returns false if the task
// had already reached a terminal state.
func (t *Task) Fail(at time.Time, results []QueryResult, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = TaskFailed
	t.completedAt = at
	t.results = results
	t.err = errMsg
	return true
}

// Snapshot returns an immutable copy suitable for serialization.
func (t *Task) Snapshot() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := TaskView{
		ID:             t.ID,
		ChannelID:      t.ChannelID,
		Origin:         t.Origin,
		Queries:        append([]string(nil), t.Queries...),
		Status:         t.status,
		CreatedAt:      t.createdAt,
		Results:        append([]QueryResult(nil), t.results...),
		TotalCollected: t.totalCollected,
		TotalInserted:  t.totalInserted,
		Error:          t.err,
	}
	if !t.startedAt.IsZero() {
		s := t.startedAt
		v.StartedAt = &s
	}
	if !t.completedAt.IsZero() {
		c := t.completedAt
		v.CompletedAt = &c
		if v.StartedAt != nil {
			v.DurationMs = c.Sub(*v.StartedAt).Milliseconds()
		}
	}
	return v
}

// TaskView is the serialized form of a Task.
type TaskView struct {
	ID             string        `json:"task_id"`
	ChannelID      string        `json:"channel_id"`
	Origin         string        `json:"origin"`
	Queries        []string      `json:"queries"`
	Status         TaskStatus    `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	DurationMs     int64         `json:"duration_ms,omitempty"`
	Results        []QueryResult `json:"results,omitempty"`
	TotalCollected int           `json:"total_collected"`
	TotalInserted  int           `json:"total_inserted"`
	Error          string        `json:"error,omitempty"`
}

// RuntimeStatus is the process-wide view of the scheduler and run slot.
type RuntimeStatus struct {
	IsRunning       bool       `json:"is_running"`
	CurrentTaskID   string     `json:"current_task_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	SchedulerActive bool       `json:"scheduler_active"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
}
