package store

import (
	"context"
	"log"
)

// LogPublisher logs published events instead of delivering them anywhere.
// Useful for local runs and as the default when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Printf("[Publisher] %s v%d %s/%s (%s)", event.AggregateID, event.Version, event.AggregateType, event.EventType, event.ID)
	return nil
}
