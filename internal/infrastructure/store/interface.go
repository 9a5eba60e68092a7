package store

import "context"

// EventStore defines the interface for event stores.
//
// Append performs an atomic check-and-set on expectedVersion: the caller
// passes the version it believes is current (0 for a new aggregate) and the
// store either persists the event at expectedVersion+1 or fails with
// ErrConcurrencyConflict, persisting nothing. Two appends racing on the same
// aggregate with the same expectedVersion result in exactly one success.
type EventStore interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload any, expectedVersion int, opts ...AppendOption) (*Event, error)

	// CurrentVersion returns the highest persisted version for the aggregate,
	// or 0 if no events exist.
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)

	// ReadEvents returns events with version > afterVersion, ascending by
	// version. Restartable: callers resume by passing the last version seen.
	ReadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error)

	// ReadByType and ReadByActor are cross-aggregate query conveniences,
	// ordered by occurred_at descending and bounded by limit. They may lag
	// the primary append path slightly.
	ReadByType(ctx context.Context, eventType string, limit int) ([]Event, error)
	ReadByActor(ctx context.Context, actorID string, limit int) ([]Event, error)

	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// GetSnapshot returns the latest snapshot for the aggregate, or (nil, nil)
	// when none exists. Absence is a normal outcome, not an error.
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// Publisher receives each event after it has been durably appended.
// Delivery is best-effort and at-least-once: a publish failure is logged by
// the store and never propagated to the append caller. The event log, not the
// publish channel, is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
