package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventQueued          EventType = "queued"
	EventAdmitted        EventType = "admitted"
	EventSynced          EventType = "synced"
	EventError           EventType = "error"
	EventRestarted       EventType = "restarted"
	EventRegression      EventType = "regression"
	EventReserveMismatch EventType = "reserve_mismatch"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	ProcessID    string    `json:"process_id"`
	Name         string    `json:"name"`
	FromState    string    `json:"from_state,omitempty"`
	ToState      string    `json:"to_state,omitempty"`
	ComputedSlot *uint64   `json:"computed_slot,omitempty"`
	CurrentSlot  *uint64   `json:"current_slot,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
