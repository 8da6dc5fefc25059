// Package notify fans terminal task events out to the sinks registered
// under a channel id. Delivery is isolated per sink: a slow, failing or
// panicking sink is logged and never delays the publisher or its peers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/tweetscope/models"
)

// Sink receives events for one subscriber.
type Sink interface {
	ID() string
	Deliver(ctx context.Context, ev models.Event) error
	Close() error
}

// Hub is the channel → sinks registry. It is safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]Sink
	timeout  time.Duration
	inflight sync.WaitGroup
}

// NewHub returns a Hub that bounds each delivery by timeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{channels: make(map[string]map[string]Sink), timeout: timeout}
}

// Subscribe registers sink under channel.
func (h *Hub) Subscribe(channel string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sinks, ok := h.channels[channel]
	if !ok {
		sinks = make(map[string]Sink)
		h.channels[channel] = sinks
	}
	sinks[sink.ID()] = sink
	slog.Debug("sink subscribed", "channel", channel, "sink", sink.ID())
}

// Unsubscribe removes and closes a sink. It reports whether the sink was
// registered. No event is delivered to it afterwards, including events
// already being published.
func (h *Hub) Unsubscribe(channel, sinkID string) bool {
	h.mu.Lock()
	sink, ok := h.channels[channel][sinkID]
	if ok {
		delete(h.channels[channel], sinkID)
		if len(h.channels[channel]) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	if err := sink.Close(); err != nil {
		slog.Warn("sink close failed", "channel", channel, "sink", sinkID, "error", err)
	}
	slog.Debug("sink unsubscribed", "channel", channel, "sink", sinkID)
	return true
}

// Count returns the number of sinks registered under channel.
func (h *Hub) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Publish delivers ev to every sink registered under channel at the time
// of the call. It returns immediately.
func (h *Hub) Publish(channel string, ev models.Event) {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	slog.Info("event published",
		"channel", channel,
		"type", ev.Type,
		"task_id", ev.TaskID,
		"sinks", len(sinks),
	)

	for _, s := range sinks {
		h.inflight.Add(1)
		go h.deliver(channel, s, ev)
	}
}

// Wait blocks until every in-flight delivery has returned.
func (h *Hub) Wait() {
	h.inflight.Wait()
}

func (h *Hub) deliver(channel string, s Sink, ev models.Event) {
	defer h.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sink panicked", "channel", channel, "sink", s.ID(), "panic", fmt.Sprint(r))
		}
	}()

	if !h.registered(channel, s.ID()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := s.Deliver(ctx, ev); err != nil {
		slog.Warn("event delivery failed",
			"channel", channel,
			"sink", s.ID(),
			"type", ev.Type,
			"task_id", ev.TaskID,
			"error", err,
		)
	}
}

func (h *Hub) registered(channel, sinkID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][sinkID]
	return ok
}
