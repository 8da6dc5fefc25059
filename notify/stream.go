package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/use-agent/tweetscope/models"
)

var (
	// ErrSinkClosed is returned when delivering to an unsubscribed sink.
	ErrSinkClosed = errors.New("notify: sink closed")

	// ErrSinkFull is returned when a stream consumer is not keeping up.
	ErrSinkFull = errors.New("notify: sink buffer full")
)

// StreamSink buffers events for a long-lived consumer such as an SSE
// connection. Events are dropped, not queued, when the buffer is full.
type StreamSink struct {
	id string

	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

// NewStreamSink returns a sink with room for buffer undelivered events.
func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &StreamSink{id: uuid.NewString(), ch: make(chan models.Event, buffer)}
}

func (s *StreamSink) ID() string { return s.id }

// Events is closed when the sink is closed.
func (s *StreamSink) Events() <-chan models.Event { return s.ch }

// Deliver never blocks.
func (s *StreamSink) Deliver(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close is idempotent.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
