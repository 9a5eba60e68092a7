package kafka

import (
	"context"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// EventPublisher adapts a Producer to store.Publisher. Messages are keyed by
// aggregate id so events of one aggregate land on one partition in append
// order; no cross-aggregate ordering is promised.
type EventPublisher struct {
	producer *Producer
}

func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func (p *EventPublisher) Publish(ctx context.Context, event store.Event) error {
	return p.producer.Publish(ctx, event.AggregateID, event)
}
