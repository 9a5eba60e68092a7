package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of store.EventStore for testing
type MockEventStore struct {
	mu       sync.RWMutex
	events   map[string][]store.Event
	snapshot map[string]*store.Snapshot

	// For tracking calls in tests
	AppendCalls       []AppendCall
	AppendErr         error
	SaveSnapshotCalls []SaveSnapshotCall
	SaveSnapshotErr   error
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	Payload         any
	ExpectedVersion int
}

// SaveSnapshotCall records parameters passed to SaveSnapshot
type SaveSnapshotCall struct {
	Snapshot *store.Snapshot
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:      make(map[string][]store.Event),
		snapshot:    make(map[string]*store.Snapshot),
		AppendCalls: make([]AppendCall, 0),
	}
}

// Append stores an event in memory, honoring the expectedVersion check.
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload any, expectedVersion int, opts ...store.AppendOption) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Record the call
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		Payload:         payload,
		ExpectedVersion: expectedVersion,
	})

	// Return error if set
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	if m.currentVersionLocked(aggregateID) != expectedVersion {
		return nil, store.ErrConcurrencyConflict
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := store.Event{
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

	m.events[aggregateID] = append(m.events[aggregateID], event)
	return &event, nil
}

// CurrentVersion returns the highest version stored for the aggregate.
func (m *MockEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentVersionLocked(aggregateID), nil
}

func (m *MockEventStore) currentVersionLocked(aggregateID string) int {
	events := m.events[aggregateID]
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Version
}

// ReadEvents returns events with version > afterVersion, ascending.
func (m *MockEventStore) ReadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.Event
	for _, e := range m.events[aggregateID] {
		if e.Version > afterVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadByType returns events of one type, occurred_at descending.
func (m *MockEventStore) ReadByType(ctx context.Context, eventType string, limit int) ([]store.Event, error) {
	return m.readFiltered(func(e store.Event) bool { return e.EventType == eventType }, limit), nil
}

// ReadByActor returns events of one actor, occurred_at descending.
func (m *MockEventStore) ReadByActor(ctx context.Context, actorID string, limit int) ([]store.Event, error) {
	return m.readFiltered(func(e store.Event) bool { return e.ActorID == actorID }, limit), nil
}

func (m *MockEventStore) readFiltered(match func(store.Event) bool, limit int) []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []store.Event
	for _, events := range m.events {
		for _, e := range events {
			if match(e) {
				matched = append(matched, e)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// SaveSnapshot records the call and stores the snapshot.
func (m *MockEventStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveSnapshotCalls = append(m.SaveSnapshotCalls, SaveSnapshotCall{Snapshot: snapshot})
	if m.SaveSnapshotErr != nil {
		return m.SaveSnapshotErr
	}
	m.snapshot[snapshot.AggregateID] = snapshot
	return nil
}

// GetSnapshot returns the stored snapshot, or (nil, nil) when absent.
func (m *MockEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot[aggregateID], nil
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.snapshot = make(map[string]*store.Snapshot)
	m.AppendCalls = make([]AppendCall, 0)
	m.SaveSnapshotCalls = nil
	m.AppendErr = nil
	m.SaveSnapshotErr = nil
}

// SetEvents sets events directly for testing
func (m *MockEventStore) SetEvents(aggregateID string, events []store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[aggregateID] = events
}

// SetSnapshot sets a snapshot directly for testing
func (m *MockEventStore) SetSnapshot(snapshot *store.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot[snapshot.AggregateID] = snapshot
}

// AddEvent adds a single event for testing, assigning the next version.
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := store.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       jsonPayload,
		Version:       m.currentVersionLocked(aggregateID) + 1,
		OccurredAt:    time.Now(),
	}

	m.events[aggregateID] = append(m.events[aggregateID], event)
	return nil
}
