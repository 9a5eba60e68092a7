package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/example/pm-event-driven/internal/domain/aggregate"
	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// Projector folds ordered event sequences into aggregate state, one
// registered constructor per aggregate type. Projection is read-only and
// deterministic: the same history always folds to the same state, with or
// without a snapshot shortcut.
type Projector struct {
	eventStore   store.EventStore
	constructors map[string]func() aggregate.Aggregate
}

func NewProjector(eventStore store.EventStore) *Projector {
	return &Projector{
		eventStore:   eventStore,
		constructors: make(map[string]func() aggregate.Aggregate),
	}
}

// Register binds an aggregate type to its state constructor. Call at startup;
// projecting an unregistered type fails with ErrUnknownAggregateType.
func (p *Projector) Register(aggregateType string, newState func() aggregate.Aggregate) {
	p.constructors[aggregateType] = newState
}

// Registered reports whether a constructor exists for the aggregate type.
// Lets callers fail fast at startup rather than at call time.
func (p *Projector) Registered(aggregateType string) bool {
	_, ok := p.constructors[aggregateType]
	return ok
}

// Project rebuilds the current state of one aggregate: load the snapshot if
// any, read the event tail, fold. Returns the state and the version it
// represents (0 when the aggregate has no history).
func (p *Projector) Project(ctx context.Context, aggregateType, aggregateID string) (aggregate.Aggregate, int, error) {
	newState, ok := p.constructors[aggregateType]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", store.ErrUnknownAggregateType, aggregateType)
	}

	state := newState()

	snapshot, err := p.eventStore.GetSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get snapshot: %w", err)
	}

	afterVersion := 0
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, state); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		state.SetVersion(snapshot.Version)
		afterVersion = snapshot.Version
	}

	events, err := p.eventStore.ReadEvents(ctx, aggregateID, afterVersion)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read events: %w", err)
	}

	for _, event := range events {
		if err := state.ApplyEvent(event); err != nil {
			return nil, 0, fmt.Errorf("failed to apply event %s (version %d): %w", event.ID, event.Version, err)
		}
	}

	return state, state.GetVersion(), nil
}

// RefreshSnapshot projects the aggregate and saves the result as its new
// snapshot. Purely an optimization for future reads.
func (p *Projector) RefreshSnapshot(ctx context.Context, aggregateType, aggregateID string) error {
	state, version, err := p.Project(ctx, aggregateType, aggregateID)
	if err != nil {
		return err
	}
	if version == 0 {
		return nil
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return p.eventStore.SaveSnapshot(ctx, &store.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         stateJSON,
		CreatedAt:     time.Now(),
	})
}

// Refresher consumes published events and refreshes snapshots whenever an
// aggregate's version crosses the snapshot threshold. Duplicate deliveries
// are harmless: re-projecting and re-saving a snapshot is idempotent.
type Refresher struct {
	projector *Projector
}

func NewRefresher(projector *Projector) *Refresher {
	return &Refresher{projector: projector}
}

// HandleEvent processes an event from the publish channel.
func (r *Refresher) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}

	if !r.projector.Registered(event.AggregateType) {
		log.Printf("[Refresher] Skipping event for unregistered aggregate type %s", event.AggregateType)
		return nil
	}

	if event.Version == 0 || event.Version%store.SnapshotThreshold != 0 {
		return nil
	}

	log.Printf("[Refresher] Refreshing snapshot for %s %s at version %d", event.AggregateType, event.AggregateID, event.Version)
	return r.projector.RefreshSnapshot(ctx, event.AggregateType, event.AggregateID)
}
