package aggregate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
	"github.com/example/pm-event-driven/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a minimal aggregate for exercising Load and snapshot logic.
type counter struct {
	ID      string `json:"id"`
	Count   int    `json:"count"`
	Version int    `json:"version"`
}

func (c *counter) GetID() string    { return c.ID }
func (c *counter) GetVersion() int  { return c.Version }
func (c *counter) SetVersion(v int) { c.Version = v }

func (c *counter) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case "Incremented":
		var data struct {
			By int `json:"by"`
		}
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		c.Count += data.By
	}
	c.Version = event.Version
	return nil
}

func newCounter() *counter { return &counter{} }

func increment(by int) map[string]int { return map[string]int{"by": by} }

func TestLoad_NoHistory(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	_, found, err := Load(ctx, eventStore, "cnt-1", newCounter)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoad_ReplaysAllEvents(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, eventStore.AddEvent("cnt-1", "Counter", "Incremented", increment(2)))
	}

	c, found, err := Load(ctx, eventStore, "cnt-1", newCounter)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 6, c.Count)
	assert.Equal(t, 3, c.Version)
}

func TestLoad_SnapshotPlusTail(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	state, err := json.Marshal(&counter{ID: "cnt-1", Count: 10, Version: 2})
	require.NoError(t, err)
	eventStore.SetSnapshot(&store.Snapshot{
		AggregateID:   "cnt-1",
		AggregateType: "Counter",
		Version:       2,
		State:         state,
	})

	payload, err := json.Marshal(increment(5))
	require.NoError(t, err)
	eventStore.SetEvents("cnt-1", []store.Event{
		{AggregateID: "cnt-1", EventType: "Incremented", Payload: payload, Version: 3},
	})

	c, found, err := Load(ctx, eventStore, "cnt-1", newCounter)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 15, c.Count)
	assert.Equal(t, 3, c.Version)
}

func TestLoad_SnapshotOnlyIsFound(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	state, err := json.Marshal(&counter{ID: "cnt-1", Count: 10, Version: 2})
	require.NoError(t, err)
	eventStore.SetSnapshot(&store.Snapshot{AggregateID: "cnt-1", AggregateType: "Counter", Version: 2, State: state})

	c, found, err := Load(ctx, eventStore, "cnt-1", newCounter)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, c.Version)
}

func TestMaybeCreateSnapshot_AtThreshold(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	c := &counter{ID: "cnt-1", Count: 42, Version: store.SnapshotThreshold}

	require.NoError(t, MaybeCreateSnapshot(ctx, eventStore, c, "Counter"))

	require.Len(t, eventStore.SaveSnapshotCalls, 1)
	saved := eventStore.SaveSnapshotCalls[0].Snapshot
	assert.Equal(t, "cnt-1", saved.AggregateID)
	assert.Equal(t, "Counter", saved.AggregateType)
	assert.Equal(t, store.SnapshotThreshold, saved.Version)

	var restored counter
	require.NoError(t, json.Unmarshal(saved.State, &restored))
	assert.Equal(t, 42, restored.Count)
}

func TestMaybeCreateSnapshot_BelowThresholdIsNoOp(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	c := &counter{ID: "cnt-1", Version: store.SnapshotThreshold - 1}

	require.NoError(t, MaybeCreateSnapshot(ctx, eventStore, c, "Counter"))
	assert.Empty(t, eventStore.SaveSnapshotCalls)
}

func TestMaybeCreateSnapshot_VersionZeroIsNoOp(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	ctx := context.Background()

	require.NoError(t, MaybeCreateSnapshot(ctx, eventStore, &counter{ID: "cnt-1"}, "Counter"))
	assert.Empty(t, eventStore.SaveSnapshotCalls)
}
