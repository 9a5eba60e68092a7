package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Load loads an aggregate by replaying events, using a snapshot if available.
// Returns the aggregate, a boolean indicating if data was found, and any error.
// The aggregate's version after Load is the expectedVersion to use for the
// next append.
func Load[T Aggregate](
	ctx context.Context,
	eventStore store.EventStore,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	agg := newAggregate()

	snapshot, err := eventStore.GetSnapshot(ctx, id)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	afterVersion := 0
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			var zero T
			return zero, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		agg.SetVersion(snapshot.Version)
		afterVersion = snapshot.Version
	}

	events, err := eventStore.ReadEvents(ctx, id, afterVersion)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("failed to read events: %w", err)
	}

	// Check if any data was found
	hasData := snapshot != nil || len(events) > 0

	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			var zero T
			return zero, false, fmt.Errorf("failed to apply event: %w", err)
		}
	}

	return agg, hasData, nil
}

// MaybeCreateSnapshot creates a snapshot if the threshold is exceeded.
// Snapshotting is an optimization hint, never required for correctness: a
// snapshot computed from an older read stays valid because replay always
// continues forward from its version.
func MaybeCreateSnapshot(
	ctx context.Context,
	eventStore store.EventStore,
	agg Aggregate,
	aggregateType string,
) error {
	version := agg.GetVersion()
	if version > 0 && version%store.SnapshotThreshold == 0 {
		state, err := json.Marshal(agg)
		if err != nil {
			return fmt.Errorf("failed to marshal aggregate state: %w", err)
		}

		snapshot := &store.Snapshot{
			AggregateID:   agg.GetID(),
			AggregateType: aggregateType,
			Version:       version,
			State:         state,
			CreatedAt:     time.Now(),
		}

		if err := eventStore.SaveSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return nil
}
