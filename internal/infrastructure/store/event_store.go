package store

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore stores events in process memory. It is the reference
// implementation of the optimistic-concurrency contract and backs tests and
// local runs. Appends to different aggregates never contend with each other.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events, ascending by version
	snapshots map[string]*Snapshot
	locks     map[string]*sync.Mutex // per-aggregate append locks
	publisher Publisher
}

func NewMemoryEventStore(publisher Publisher) *MemoryEventStore {
	return &MemoryEventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]*Snapshot),
		locks:     make(map[string]*sync.Mutex),
		publisher: publisher,
	}
}

// aggregateLock returns the append lock for one aggregate, creating it on
// first use. The store-wide mutex only guards the maps, never an append.
func (es *MemoryEventStore) aggregateLock(aggregateID string) *sync.Mutex {
	es.mu.Lock()
	defer es.mu.Unlock()
	l, ok := es.locks[aggregateID]
	if !ok {
		l = &sync.Mutex{}
		es.locks[aggregateID] = l
	}
	return l
}

// Append performs the check-and-set append described by EventStore.
func (es *MemoryEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload any, expectedVersion int, opts ...AppendOption) (*Event, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	lock := es.aggregateLock(aggregateID)
	lock.Lock()

	es.mu.RLock()
	current := len(es.events[aggregateID])
	es.mu.RUnlock()

	if current != expectedVersion {
		lock.Unlock()
		return nil, ErrConcurrencyConflict
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       jsonPayload,
		Version:       expectedVersion + 1,
		OccurredAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	es.mu.Lock()
	es.events[aggregateID] = append(es.events[aggregateID], event)
	es.mu.Unlock()
	lock.Unlock()

	// The event is durable at this point; publish failures are logged, never
	// propagated to the append caller.
	if es.publisher != nil {
		if err := es.publisher.Publish(ctx, event); err != nil {
			log.Printf("[EventStore] Failed to publish event %s: %v", event.ID, err)
		}
	}

	return &event, nil
}

// CurrentVersion returns the highest persisted version, or 0 if none exist.
func (es *MemoryEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.events[aggregateID]), nil
}

// ReadEvents returns events with version > afterVersion, ascending.
func (es *MemoryEventStore) ReadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	all := es.events[aggregateID]
	if afterVersion >= len(all) {
		return nil, nil
	}
	if afterVersion < 0 {
		afterVersion = 0
	}
	// Versions are contiguous from 1, so the slice index is the version.
	out := make([]Event, len(all)-afterVersion)
	copy(out, all[afterVersion:])
	return out, nil
}

// ReadByType returns the most recent events of one event type across all
// aggregates, ordered by occurred_at descending.
func (es *MemoryEventStore) ReadByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	return es.readFiltered(func(e Event) bool { return e.EventType == eventType }, limit), nil
}

// ReadByActor returns the most recent events caused by one actor.
func (es *MemoryEventStore) ReadByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	return es.readFiltered(func(e Event) bool { return e.ActorID == actorID }, limit), nil
}

func (es *MemoryEventStore) readFiltered(match func(Event) bool, limit int) []Event {
	es.mu.RLock()
	var matched []Event
	for _, events := range es.events {
		for _, e := range events {
			if match(e) {
				matched = append(matched, e)
			}
		}
	}
	es.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// SaveSnapshot overwrites any existing snapshot for the aggregate.
func (es *MemoryEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

// GetSnapshot returns the latest snapshot, or (nil, nil) when none exists.
func (es *MemoryEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.snapshots[aggregateID], nil
}

// DeleteSnapshot removes the snapshot for an aggregate. Replay correctness
// must not depend on it; this exists for tests and manual recovery.
func (es *MemoryEventStore) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	delete(es.snapshots, aggregateID)
	return nil
}
