package store

import (
	"encoding/json"
	"time"
)

// Event represents a domain event: one immutable state transition of one aggregate.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ActorID       string          `json:"actor_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON returns the JSON encoding of the event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct{ Alias }{Alias: Alias(e)})
}

// AppendOption sets optional fields on an event being appended.
type AppendOption func(*Event)

// WithActor records the principal that caused the event.
func WithActor(actorID string) AppendOption {
	return func(e *Event) { e.ActorID = actorID }
}

// WithMetadata attaches opaque contextual data (correlation id, origin, ...).
// Projectors never interpret it; it is only carried through.
func WithMetadata(metadata json.RawMessage) AppendOption {
	return func(e *Event) { e.Metadata = metadata }
}
