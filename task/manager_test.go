package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/notify"
)

// scriptRunner returns canned results; when block is set it waits for
// release or cancellation first. started is closed when the first run
// begins and is never reassigned.
type scriptRunner struct {
	mu        sync.Mutex
	calls     int
	results   []models.QueryResult
	err       error
	block     chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (r *scriptRunner) Run(ctx context.Context, queries []string) ([]models.QueryResult, error) {
	r.mu.Lock()
	r.calls++
	block := r.block
	results, err := r.results, r.err
	r.mu.Unlock()

	if r.started != nil {
		r.startOnce.Do(func() { close(r.started) })
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, err
}

// unblock lets later runs return immediately.
func (r *scriptRunner) unblock() {
	r.mu.Lock()
	r.block = nil
	r.mu.Unlock()
}

func (r *scriptRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type memWriter struct {
	mu    sync.Mutex
	seen  map[string]models.Post
	err   error
	calls int
}

func (w *memWriter) UpsertPosts(ctx context.Context, posts []models.Post) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return 0, w.err
	}
	if w.seen == nil {
		w.seen = make(map[string]models.Post)
	}
	inserted := 0
	for _, p := range posts {
		if _, ok := w.seen[p.ID]; !ok {
			inserted++
		}
		w.seen[p.ID] = p
	}
	return inserted, nil
}

func postsN(prefix string, n int) []models.Post {
	out := make([]models.Post, n)
	for i := range out {
		out[i] = models.Post{ID: prefix + string(rune('a'+i%26)) + string(rune('a'+i/26))}
	}
	return out
}

func newTestManager(r Runner, w PostWriter) (*Manager, *notify.Hub) {
	hub := notify.NewHub(time.Second)
	return NewManager(r, w, hub, time.Hour), hub
}

func recv(t *testing.T, s *notify.StreamSink) models.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("sink closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestManager_PartialSuccessCompletes(t *testing.T) {
	runner := &scriptRunner{results: []models.QueryResult{
		{Query: "BTC", Status: models.QuerySuccess, Attempts: 1, Collected: 30, Posts: postsN("b", 30)},
		{Query: "ETH", Status: models.QueryFailed, Attempts: 3, Error: "QUERY_EXHAUSTED: boom"},
	}}
	writer := &memWriter{}
	m, hub := newTestManager(runner, writer)
	sink := notify.NewStreamSink(4)
	hub.Subscribe("chat", sink)

	task, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"BTC", "ETH"}, ChannelID: "chat"})
	if err != nil {
		t.Fatal(err)
	}

	ev := recv(t, sink)
	if ev.Type != models.EventAcquisitionComplete || ev.TaskID != task.ID {
		t.Fatalf("event = %+v", ev)
	}
	if ev.TotalCollected != 30 || ev.TotalInserted != 30 {
		t.Errorf("counts = %d/%d, want 30/30", ev.TotalCollected, ev.TotalInserted)
	}

	m.Wait()
	hub.Wait()
	view, ok := m.Get(task.ID)
	if !ok {
		t.Fatal("task not found")
	}
	if view.Status != models.TaskCompleted {
		t.Errorf("status = %s", view.Status)
	}
	if len(view.Results) != 2 || view.Results[1].Status != models.QueryFailed {
		t.Errorf("per-query detail = %+v", view.Results)
	}
	for _, r := range view.Results {
		if r.Posts != nil {
			t.Error("task record should not retain post payloads")
		}
	}
	select {
	case extra := <-sink.Events():
		t.Errorf("second event delivered: %+v", extra)
	default:
	}
}

func TestManager_AllQueriesFailed(t *testing.T) {
	runner := &scriptRunner{results: []models.QueryResult{
		{Query: "A", Status: models.QueryFailed},
		{Query: "B", Status: models.QueryFailed},
	}}
	writer := &memWriter{}
	m, hub := newTestManager(runner, writer)
	sink := notify.NewStreamSink(4)
	hub.Subscribe("c", sink)

	task, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A", "B"}, ChannelID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	ev := recv(t, sink)
	if ev.Type != models.EventAcquisitionError || !strings.Contains(ev.Error, models.ErrCodeQueryExhausted) {
		t.Errorf("event = %+v", ev)
	}
	m.Wait()
	if v, _ := m.Get(task.ID); v.Status != models.TaskFailed {
		t.Errorf("status = %s", v.Status)
	}
	if writer.calls != 0 {
		t.Error("nothing should be written when every query failed")
	}
}

func TestManager_RunAndStoreErrorsFailTask(t *testing.T) {
	tests := []struct {
		name   string
		runner *scriptRunner
		writer *memWriter
		code   string
	}{
		{
			name:   "launch failure",
			runner: &scriptRunner{err: models.NewScrapeError(models.ErrCodeLaunch, "no chromium", nil)},
			writer: &memWriter{},
			code:   models.ErrCodeLaunch,
		},
		{
			name: "store failure",
			runner: &scriptRunner{results: []models.QueryResult{
				{Query: "A", Status: models.QuerySuccess, Collected: 1, Posts: postsN("a", 1)},
			}},
			writer: &memWriter{err: errors.New("connection reset")},
			code:   models.ErrCodeStore,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, hub := newTestManager(tt.runner, tt.writer)
			sink := notify.NewStreamSink(2)
			hub.Subscribe("c", sink)

			if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}, ChannelID: "c"}); err != nil {
				t.Fatal(err)
			}
			ev := recv(t, sink)
			if ev.Type != models.EventAcquisitionError || !strings.Contains(ev.Error, tt.code) {
				t.Errorf("event = %+v, want error carrying %s", ev, tt.code)
			}
		})
	}
}

func TestManager_SingleFlight(t *testing.T) {
	runner := &scriptRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
		results: []models.QueryResult{{Query: "A", Status: models.QuerySuccess, Collected: 1, Posts: postsN("a", 1)}},
	}
	m, hub := newTestManager(runner, &memWriter{})
	sink := notify.NewStreamSink(2)
	hub.Subscribe("c", sink)

	first, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}, ChannelID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	<-runner.started

	for i := 0; i < 5; i++ {
		_, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"B"}})
		if !models.HasCode(err, models.ErrCodeAlreadyRunning) {
			t.Fatalf("submit %d: err = %v, want ALREADY_RUNNING", i, err)
		}
	}
	if st := m.RunState(); !st.IsRunning || st.CurrentTaskID != first.ID || st.StartedAt == nil {
		t.Errorf("run state = %+v", st)
	}
	if len(m.List()) != 1 {
		t.Errorf("rejected submits must not register tasks, have %d", len(m.List()))
	}

	close(runner.block)
	recv(t, sink)

	// The slot is free once the terminal event is out.
	runner.unblock()
	if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"C"}}); err != nil {
		t.Errorf("submit after completion: %v", err)
	}
	m.Wait()
	if runner.callCount() != 2 {
		t.Errorf("runner called %d times, want 2", runner.callCount())
	}
}

func TestManager_ConcurrentSubmitsAdmitOne(t *testing.T) {
	runner := &scriptRunner{block: make(chan struct{})}
	m, _ := newTestManager(runner, &memWriter{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"Q"}}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(runner.block)
	m.Wait()

	if admitted != 1 {
		t.Errorf("admitted %d concurrent submits, want exactly 1", admitted)
	}
}

func TestManager_UnsubscribedChannelGetsNothing(t *testing.T) {
	runner := &scriptRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
		results: []models.QueryResult{{Query: "A", Status: models.QuerySuccess, Collected: 1, Posts: postsN("a", 1)}},
	}
	m, hub := newTestManager(runner, &memWriter{})
	leaver := notify.NewStreamSink(2)
	stayer := notify.NewStreamSink(2)
	hub.Subscribe("c", leaver)
	hub.Subscribe("c", stayer)

	if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}, ChannelID: "c"}); err != nil {
		t.Fatal(err)
	}
	<-runner.started
	hub.Unsubscribe("c", leaver.ID())
	close(runner.block)

	recv(t, stayer)
	m.Wait()
	hub.Wait()

	if _, ok := <-leaver.Events(); ok {
		t.Error("unsubscribed sink received an event")
	}
}

func TestManager_ForceReset(t *testing.T) {
	runner := &scriptRunner{block: make(chan struct{}), started: make(chan struct{})}
	m, hub := newTestManager(runner, &memWriter{})
	sink := notify.NewStreamSink(4)
	hub.Subscribe("c", sink)

	resets := 0
	m.SetResetHook(func() error {
		resets++
		return nil
	})

	if m.ForceReset("idle") {
		t.Error("ForceReset with no run should report false")
	}

	stuck, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}, ChannelID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	<-runner.started

	if !m.ForceReset("run exceeded 60m") {
		t.Fatal("ForceReset should report an active run")
	}
	if resets != 1 {
		t.Errorf("reset hook called %d times", resets)
	}

	ev := recv(t, sink)
	if ev.Type != models.EventAcquisitionError || !strings.Contains(ev.Error, models.ErrCodeStuckRun) {
		t.Errorf("event = %+v", ev)
	}
	if m.RunState().IsRunning {
		t.Error("slot should be free after reset")
	}

	// A fresh run is admitted while the stuck goroutine unwinds.
	runner.unblock()
	if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"B"}}); err != nil {
		t.Errorf("submit after reset: %v", err)
	}
	m.Wait()
	hub.Wait()

	v, _ := m.Get(stuck.ID)
	if v.Status != models.TaskFailed || !strings.Contains(v.Error, models.ErrCodeStuckRun) {
		t.Errorf("stuck task = %+v", v)
	}
	select {
	case extra := <-sink.Events():
		t.Errorf("stuck task published twice: %+v", extra)
	default:
	}
}

func TestManager_ResetTaskOnlyTouchesObservedRun(t *testing.T) {
	runner := &scriptRunner{block: make(chan struct{}), started: make(chan struct{})}
	m, hub := newTestManager(runner, &memWriter{})
	sink := notify.NewStreamSink(4)
	hub.Subscribe("c", sink)

	var resets int
	var mu sync.Mutex
	m.SetResetHook(func() error {
		mu.Lock()
		resets++
		mu.Unlock()
		return nil
	})

	// A run that already finished is gone; its id must not reach the next one.
	runner.unblock()
	old, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}, ChannelID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	recv(t, sink)
	m.Wait()

	runner.mu.Lock()
	runner.block = make(chan struct{})
	runner.mu.Unlock()
	fresh, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"B"}, ChannelID: "c"})
	if err != nil {
		t.Fatal(err)
	}

	if m.ResetTask(old.ID, "stale observation") {
		t.Error("ResetTask reset a run it did not observe")
	}
	if m.ResetTask("", "no id") {
		t.Error("ResetTask with an empty id should do nothing")
	}
	mu.Lock()
	if resets != 0 {
		t.Errorf("reset hook called %d times for a stale id", resets)
	}
	mu.Unlock()
	if st := m.RunState(); !st.IsRunning || st.CurrentTaskID != fresh.ID {
		t.Errorf("fresh run disturbed: %+v", st)
	}

	if !m.ResetTask(fresh.ID, "run exceeded 60m") {
		t.Error("ResetTask should abort the observed run")
	}
	ev := recv(t, sink)
	if ev.TaskID != fresh.ID || !strings.Contains(ev.Error, models.ErrCodeStuckRun) {
		t.Errorf("event = %+v", ev)
	}
	m.Wait()
	hub.Wait()
}

func TestManager_TerminalTaskImmutable(t *testing.T) {
	runner := &scriptRunner{results: []models.QueryResult{
		{Query: "A", Status: models.QuerySuccess, Collected: 2, Posts: postsN("a", 2)},
	}}
	m, _ := newTestManager(runner, &memWriter{})

	task, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	before, _ := m.Get(task.ID)
	if task.Fail(time.Now(), nil, "late") || task.MarkRunning(time.Now()) {
		t.Error("terminal task accepted a transition")
	}
	if m.ForceReset("late") {
		t.Error("ForceReset should find no run")
	}
	after, _ := m.Get(task.ID)
	if after.Status != before.Status || after.Error != before.Error {
		t.Errorf("terminal task changed: %+v -> %+v", before, after)
	}
}

func TestManager_SubmitValidation(t *testing.T) {
	m, _ := newTestManager(&scriptRunner{}, &memWriter{})

	_, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{" ", ""}})
	if !models.HasCode(err, models.ErrCodeInvalidInput) {
		t.Errorf("blank queries: err = %v", err)
	}

	many := make([]string, maxQueries+1)
	for i := range many {
		many[i] = "q"
	}
	_, err = m.Submit(context.Background(), SubmitRequest{Queries: many})
	if !models.HasCode(err, models.ErrCodeInvalidInput) {
		t.Errorf("too many queries: err = %v", err)
	}
	if m.Running() {
		t.Error("invalid submits must not take the slot")
	}
}

func TestManager_CommitHookAndDedup(t *testing.T) {
	dup := models.Post{ID: "same", Likes: 1}
	fresher := models.Post{ID: "same", Likes: 9}
	runner := &scriptRunner{results: []models.QueryResult{
		{Query: "A", Status: models.QuerySuccess, Collected: 1, Posts: []models.Post{dup}},
		{Query: "B", Status: models.QuerySuccess, Collected: 1, Posts: []models.Post{fresher}},
	}}
	writer := &memWriter{}
	m, _ := newTestManager(runner, writer)

	var hooked []int
	m.SetCommitHook(func(inserted int) { hooked = append(hooked, inserted) })

	task, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A", "B"}})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	v, _ := m.Get(task.ID)
	if v.TotalCollected != 2 || v.TotalInserted != 1 {
		t.Errorf("collected/inserted = %d/%d, want 2/1", v.TotalCollected, v.TotalInserted)
	}
	if writer.seen["same"].Likes != 9 {
		t.Errorf("stored likes = %d, want the later observation", writer.seen["same"].Likes)
	}
	if len(hooked) != 1 || hooked[0] != 1 {
		t.Errorf("commit hook calls = %v", hooked)
	}
	if st := m.RunState(); st.LastRunAt == nil {
		t.Error("LastRunAt should be set after a run")
	}
}

func TestManager_PrunesExpiredTasks(t *testing.T) {
	runner := &scriptRunner{results: []models.QueryResult{
		{Query: "A", Status: models.QuerySuccess, Collected: 1, Posts: postsN("a", 1)},
	}}
	m, _ := newTestManager(runner, &memWriter{})

	old, _ := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}})
	m.Wait()

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.Submit(context.Background(), SubmitRequest{Queries: []string{"A"}}); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	if _, ok := m.Get(old.ID); ok {
		t.Error("expired task should be pruned")
	}
	if len(m.List()) != 1 {
		t.Errorf("List = %d tasks, want 1", len(m.List()))
	}
}
