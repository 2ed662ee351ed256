// Package history persists supervisor lifecycle events so a restarted daemon
// can show what happened to its processes. Sinks are best-effort: the
// supervisor never fails an operation because a sink write failed.
package history

import (
	"context"
	"time"
)

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventFailed  EventType = "failed"
)

// Event is one lifecycle transition of a supervised process.
type Event struct {
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink receives lifecycle events.
type Sink interface {
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Reader is implemented by sinks that can list recorded events back out.
// An empty name matches every process.
type Reader interface {
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}
