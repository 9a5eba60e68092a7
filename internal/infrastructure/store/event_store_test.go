package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingPublisher always fails, for verifying publish errors never reach the
// append caller.
type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("broker unavailable")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ============================================
// Append Tests - Optimistic Concurrency
// ============================================

func TestMemoryEventStore_Append_FirstEvent(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	event, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", map[string]string{"name": "Apollo"}, 0)

	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "proj-1", event.AggregateID)
	assert.Equal(t, "Project", event.AggregateType)
	assert.Equal(t, "ProjectCreated", event.EventType)
	assert.Equal(t, 1, event.Version)
	assert.NotZero(t, event.OccurredAt)
}

func TestMemoryEventStore_Append_VersionsAreContiguous(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event, err := es.Append(ctx, "proj-1", "Project", "ProjectRenamed", map[string]int{"n": i}, i)
		require.NoError(t, err)
		assert.Equal(t, i+1, event.Version)
	}

	version, err := es.CurrentVersion(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestMemoryEventStore_Append_StaleVersionConflicts(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	_, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
	require.NoError(t, err)

	// Both writers loaded at version 1; only one can win.
	_, err = es.Append(ctx, "proj-1", "Project", "ProjectRenamed", nil, 1)
	require.NoError(t, err)

	_, err = es.Append(ctx, "proj-1", "Project", "ProjectRenamed", nil, 1)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	// The loser left no trace.
	version, err := es.CurrentVersion(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestMemoryEventStore_Append_FutureVersionConflicts(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	_, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 7)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryEventStore_Append_ConcurrentWritersOneWinner(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	const writers = 16

	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrConcurrencyConflict)
		}
	}
	assert.Equal(t, 1, winners)

	version, err := es.CurrentVersion(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMemoryEventStore_Append_IndependentAggregates(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	// Each aggregate keeps its own version sequence.
	_, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
	require.NoError(t, err)
	event, err := es.Append(ctx, "proj-2", "Project", "ProjectCreated", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, event.Version)
}

func TestMemoryEventStore_Append_WithActorAndMetadata(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	event, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0,
		WithActor("user-9"), WithMetadata(json.RawMessage(`{"trace_id":"abc"}`)))

	require.NoError(t, err)
	assert.Equal(t, "user-9", event.ActorID)
	assert.JSONEq(t, `{"trace_id":"abc"}`, string(event.Metadata))
}

// ============================================
// Read Tests
// ============================================

func TestMemoryEventStore_ReadEvents_FromBeginning(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := es.Append(ctx, "task-1", "Task", "TaskStatusChanged", map[string]int{"n": i}, i)
		require.NoError(t, err)
	}

	events, err := es.ReadEvents(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestMemoryEventStore_ReadEvents_ResumeAfterVersion(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := es.Append(ctx, "task-1", "Task", "TaskStatusChanged", nil, i)
		require.NoError(t, err)
	}

	events, err := es.ReadEvents(ctx, "task-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Version)
	assert.Equal(t, 5, events[1].Version)
}

func TestMemoryEventStore_ReadEvents_UnknownAggregateIsEmpty(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	events, err := es.ReadEvents(ctx, "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryEventStore_ReadByType_NewestFirstWithLimit(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := es.Append(ctx, "task-1", "Task", "TaskStatusChanged", nil, i)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err := es.Append(ctx, "task-2", "Task", "TaskCreated", nil, 0)
	require.NoError(t, err)

	events, err := es.ReadByType(ctx, "TaskStatusChanged", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 3, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
}

func TestMemoryEventStore_ReadByActor_NewestFirst(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	_, err := es.Append(ctx, "task-1", "Task", "TaskCreated", nil, 0, WithActor("alice"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = es.Append(ctx, "task-2", "Task", "TaskCreated", nil, 0, WithActor("bob"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = es.Append(ctx, "task-1", "Task", "TaskAssigned", nil, 1, WithActor("alice"))
	require.NoError(t, err)

	events, err := es.ReadByActor(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "TaskAssigned", events[0].EventType)
	assert.Equal(t, "TaskCreated", events[1].EventType)
}

// ============================================
// Publisher Tests
// ============================================

func TestMemoryEventStore_Append_PublishesAfterDurable(t *testing.T) {
	publisher := &recordingPublisher{}
	es := NewMemoryEventStore(publisher)
	ctx := context.Background()

	event, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
	require.NoError(t, err)

	published := publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, event.ID, published[0].ID)
}

func TestMemoryEventStore_Append_PublishFailureDoesNotFailAppend(t *testing.T) {
	publisher := &failingPublisher{}
	es := NewMemoryEventStore(publisher)
	ctx := context.Background()

	event, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, event.Version)

	// The event is durable and readable despite the failed publish.
	events, err := es.ReadEvents(ctx, "proj-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, publisher.calls)
}

func TestMemoryEventStore_Append_ConflictDoesNotPublish(t *testing.T) {
	publisher := &recordingPublisher{}
	es := NewMemoryEventStore(publisher)
	ctx := context.Background()

	_, err := es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
	require.NoError(t, err)
	_, err = es.Append(ctx, "proj-1", "Project", "ProjectCreated", nil, 0)
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	assert.Len(t, publisher.Events(), 1)
}

// ============================================
// Snapshot Tests
// ============================================

func TestMemoryEventStore_SnapshotRoundTrip(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	snapshot := &Snapshot{
		AggregateID:   "proj-1",
		AggregateType: "Project",
		Version:       10,
		State:         json.RawMessage(`{"id":"proj-1","name":"Apollo"}`),
		CreatedAt:     time.Now(),
	}

	require.NoError(t, es.SaveSnapshot(ctx, snapshot))

	got, err := es.GetSnapshot(ctx, "proj-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Version)
	assert.JSONEq(t, string(snapshot.State), string(got.State))
}

func TestMemoryEventStore_GetSnapshot_AbsentIsNilNil(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	got, err := es.GetSnapshot(ctx, "proj-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryEventStore_SaveSnapshot_NewerOverwritesOlder(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "proj-1", Version: 10, State: json.RawMessage(`{}`)}))
	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "proj-1", Version: 20, State: json.RawMessage(`{}`)}))

	got, err := es.GetSnapshot(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Version)
}

func TestMemoryEventStore_DeleteSnapshot(t *testing.T) {
	es := NewMemoryEventStore(nil)
	ctx := context.Background()

	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "proj-1", Version: 10, State: json.RawMessage(`{}`)}))
	require.NoError(t, es.DeleteSnapshot(ctx, "proj-1"))

	got, err := es.GetSnapshot(ctx, "proj-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
