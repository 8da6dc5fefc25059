package models

import (
	"encoding/json"
	"time"
)

// Event types published to channel subscribers.
const (
	EventAcquisitionComplete = "acquisition-complete"
	EventAcquisitionError    = "acquisition-error"
)

// Event is the terminal notification for one task.
type Event struct {
	Type           string   `json:"type"`
	TaskID         string   `json:"task_id"`
	Queries        []string `json:"queries"`
	TotalCollected int      `json:"total_collected,omitempty"`
	TotalInserted  int      `json:"total_inserted,omitempty"`
	DurationMs     int64    `json:"duration_ms,omitempty"`
	Error          string   `json:"error,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

type completePayload struct {
	Type           string   `json:"type"`
	TaskID         string   `json:"task_id"`
	Queries        []string `json:"queries"`
	TotalCollected int      `json:"total_collected"`
	TotalInserted  int      `json:"total_inserted"`
	DurationMs     int64    `json:"duration_ms"`
	Timestamp      int64    `json:"timestamp"`
}

type errorPayload struct {
	Type      string   `json:"type"`
	TaskID    string   `json:"task_id"`
	Queries   []string `json:"queries"`
	Error     string   `json:"error"`
	Timestamp int64    `json:"timestamp"`
}

// MarshalJSON writes the counts of a complete event even when they are
// zero, and only the error text for an error event.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventAcquisitionError {
		return json.Marshal(errorPayload{
			Type: e.Type, TaskID: e.TaskID, Queries: e.Queries,
			Error: e.Error, Timestamp: e.Timestamp,
		})
	}
	return json.Marshal(completePayload{
		Type: e.Type, TaskID: e.TaskID, Queries: e.Queries,
		TotalCollected: e.TotalCollected, TotalInserted: e.TotalInserted,
		DurationMs: e.DurationMs, Timestamp: e.Timestamp,
	})
}

// EventFor builds the terminal event for a finished task view.
func EventFor(v TaskView) Event {
	ev := Event{
		TaskID:    v.ID,
		Queries:   v.Queries,
		Timestamp: time.Now().Unix(),
	}
	if v.Status == TaskFailed {
		ev.Type = EventAcquisitionError
		ev.Error = v.Error
		return ev
	}
	ev.Type = EventAcquisitionComplete
	ev.TotalCollected = v.TotalCollected
	ev.TotalInserted = v.TotalInserted
	ev.DurationMs = v.DurationMs
	return ev
}
