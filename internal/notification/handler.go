package notification

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/example/pm-event-driven/internal/domain/task"
	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// Handler processes published events at the notification boundary. Delivery
// from the publish channel is at-least-once, so the handler dedupes by event
// id before acting.
type Handler struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewHandler creates a new notification handler
func NewHandler() *Handler {
	return &Handler{
		seen: make(map[string]struct{}),
	}
}

// HandleEvent processes an event from the publish channel.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	if h.alreadySeen(event.ID) {
		log.Printf("[Notifier] Skipping duplicate delivery of event %s", event.ID)
		return nil
	}

	switch event.EventType {
	case task.EventTaskAssigned:
		return h.handleTaskAssigned(event)
	case task.EventTaskStatusChanged:
		return h.handleTaskStatusChanged(event)
	}

	return nil
}

// alreadySeen records the event id and reports whether it was seen before.
func (h *Handler) alreadySeen(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[eventID]; ok {
		return true
	}
	h.seen[eventID] = struct{}{}
	return false
}

func (h *Handler) handleTaskAssigned(event store.Event) error {
	var e task.TaskAssigned
	if err := json.Unmarshal(event.Payload, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal TaskAssigned event: %v", err)
		return err
	}

	log.Printf("[Notifier] Task %s assigned to user %s", e.TaskID, e.AssigneeID)
	return nil
}

func (h *Handler) handleTaskStatusChanged(event store.Event) error {
	var e task.TaskStatusChanged
	if err := json.Unmarshal(event.Payload, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal TaskStatusChanged event: %v", err)
		return err
	}

	log.Printf("[Notifier] Task %s moved from %s to %s", e.TaskID, e.From, e.To)
	return nil
}
