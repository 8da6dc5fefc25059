package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/tweetscope/models"
)

// funcSink adapts a function to Sink.
type funcSink struct {
	id     string
	fn     func(ctx context.Context, ev models.Event) error
	closed atomic.Bool
}

func (s *funcSink) ID() string { return s.id }
func (s *funcSink) Deliver(ctx context.Context, ev models.Event) error {
	return s.fn(ctx, ev)
}
func (s *funcSink) Close() error {
	s.closed.Store(true)
	return nil
}

func event(taskID string) models.Event {
	return models.Event{Type: models.EventAcquisitionComplete, TaskID: taskID}
}

func TestHub_ExactlyOneEventPerSubscriber(t *testing.T) {
	h := NewHub(time.Second)
	a, b := NewStreamSink(4), NewStreamSink(4)
	h.Subscribe("chat-1", a)
	h.Subscribe("chat-1", b)
	other := NewStreamSink(4)
	h.Subscribe("chat-2", other)

	h.Publish("chat-1", event("t1"))
	h.Wait()

	for name, s := range map[string]*StreamSink{"a": a, "b": b} {
		select {
		case ev := <-s.Events():
			if ev.TaskID != "t1" {
				t.Errorf("%s got task %s", name, ev.TaskID)
			}
		default:
			t.Errorf("%s received nothing", name)
		}
		select {
		case ev := <-s.Events():
			t.Errorf("%s received a second event %+v", name, ev)
		default:
		}
	}
	select {
	case ev := <-other.Events():
		t.Errorf("other channel received %+v", ev)
	default:
	}
}

func TestHub_UnsubscribedSinkReceivesNothing(t *testing.T) {
	h := NewHub(time.Second)
	var got atomic.Int32
	s := &funcSink{id: "s1", fn: func(ctx context.Context, ev models.Event) error {
		got.Add(1)
		return nil
	}}
	h.Subscribe("c", s)

	if !h.Unsubscribe("c", "s1") {
		t.Fatal("Unsubscribe should report the sink was registered")
	}
	h.Publish("c", event("t1"))
	h.Wait()

	if got.Load() != 0 {
		t.Errorf("unsubscribed sink received %d events", got.Load())
	}
	if !s.closed.Load() {
		t.Error("sink should be closed on unsubscribe")
	}
	if h.Count("c") != 0 {
		t.Errorf("Count = %d, want 0", h.Count("c"))
	}
	if h.Unsubscribe("c", "s1") {
		t.Error("second Unsubscribe should report false")
	}
}

func TestHub_BrokenSinkIsolated(t *testing.T) {
	h := NewHub(200 * time.Millisecond)

	var mu sync.Mutex
	var delivered []string
	good := &funcSink{id: "good", fn: func(ctx context.Context, ev models.Event) error {
		mu.Lock()
		delivered = append(delivered, ev.TaskID)
		mu.Unlock()
		return nil
	}}
	failing := &funcSink{id: "failing", fn: func(ctx context.Context, ev models.Event) error {
		return errors.New("connection refused")
	}}
	panicking := &funcSink{id: "panicking", fn: func(ctx context.Context, ev models.Event) error {
		panic("boom")
	}}
	hanging := &funcSink{id: "hanging", fn: func(ctx context.Context, ev models.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	for _, s := range []Sink{good, failing, panicking, hanging} {
		h.Subscribe("c", s)
	}

	start := time.Now()
	h.Publish("c", event("t1"))
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish blocked for %v", elapsed)
	}
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "t1" {
		t.Errorf("good sink got %v", delivered)
	}
}

func TestStreamSink_FullAndClosed(t *testing.T) {
	s := NewStreamSink(1)
	ctx := context.Background()

	if err := s.Deliver(ctx, event("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(ctx, event("2")); !errors.Is(err, ErrSinkFull) {
		t.Errorf("err = %v, want ErrSinkFull", err)
	}

	_ = s.Close()
	_ = s.Close()
	if err := s.Deliver(ctx, event("3")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("err = %v, want ErrSinkClosed", err)
	}

	n := 0
	for range s.Events() {
		n++
	}
	if n != 1 {
		t.Errorf("drained %d events, want the single buffered one", n)
	}
}
