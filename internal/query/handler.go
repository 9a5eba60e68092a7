package query

import (
	"context"
	"time"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// Handler serves cross-aggregate event feeds for analytics and reporting.
// These reads may lag the primary append path slightly; callers must tolerate
// staleness.
type Handler struct {
	eventStore store.EventStore
}

func NewHandler(eventStore store.EventStore) *Handler {
	return &Handler{eventStore: eventStore}
}

// EventsByType returns the most recent events of one event type, newest
// first, bounded by limit.
func (h *Handler) EventsByType(ctx context.Context, eventType string, limit int) ([]store.Event, error) {
	return h.eventStore.ReadByType(ctx, eventType, limit)
}

// EventsByActor returns the most recent events caused by one actor, newest
// first, bounded by limit.
func (h *Handler) EventsByActor(ctx context.Context, actorID string, limit int) ([]store.Event, error) {
	return h.eventStore.ReadByActor(ctx, actorID, limit)
}

// EventsByTypeSince filters a type feed down to events that occurred at or
// after the window start. The underlying read is still bounded by limit, so a
// busy window can be truncated; callers page by lowering the window.
func (h *Handler) EventsByTypeSince(ctx context.Context, eventType string, since time.Time, limit int) ([]store.Event, error) {
	events, err := h.eventStore.ReadByType(ctx, eventType, limit)
	if err != nil {
		return nil, err
	}
	return filterSince(events, since), nil
}

// EventsByActorSince filters an actor feed down to a time window.
func (h *Handler) EventsByActorSince(ctx context.Context, actorID string, since time.Time, limit int) ([]store.Event, error) {
	events, err := h.eventStore.ReadByActor(ctx, actorID, limit)
	if err != nil {
		return nil, err
	}
	return filterSince(events, since), nil
}

func filterSince(events []store.Event, since time.Time) []store.Event {
	filtered := make([]store.Event, 0, len(events))
	for _, e := range events {
		if !e.OccurredAt.Before(since) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
