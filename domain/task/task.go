// Package task provides background task domain types.
package task

import "time"

// Status represents the task lifecycle state.
type Status string

// Status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType classifies a streamed task event.
type EventType string

// EventType values.
const (
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// ProgressEvent is one streamed task update. Serialized directly onto the
// SSE wire, one JSON object per message.
type ProgressEvent struct {
	Type    EventType      `json:"type"`
	Stage   string         `json:"stage,omitempty"`
	Current int            `json:"current,omitempty"`
	Total   int            `json:"total,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Progress creates a progress event.
func Progress(stage string, current, total int, subject string) ProgressEvent {
	return ProgressEvent{
		Type:    EventProgress,
		Stage:   stage,
		Current: current,
		Total:   total,
		Subject: subject,
	}
}

// Done creates a terminal success event carrying the task result.
func Done(result map[string]any) ProgressEvent {
	return ProgressEvent{Type: EventDone, Result: result}
}

// Errored creates a terminal failure event.
func Errored(msg string) ProgressEvent {
	return ProgressEvent{Type: EventError, Error: msg}
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Snapshot is a point-in-time view of a task, served by the task endpoints.
type Snapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     Status          `json:"status"`
	Result     map[string]any  `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Events     []ProgressEvent `json:"events,omitempty"`
}
