package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotThreshold(t *testing.T) {
	assert.Equal(t, 10, SnapshotThreshold)
}

func TestSnapshot_JSONMarshalUnmarshal(t *testing.T) {
	state := map[string]interface{}{
		"id":   "proj-123",
		"name": "Apollo",
	}
	stateJSON, err := json.Marshal(state)
	require.NoError(t, err)

	original := Snapshot{
		AggregateID:   "proj-123",
		AggregateType: "Project",
		Version:       10,
		State:         stateJSON,
		CreatedAt:     time.Now().Truncate(time.Second),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Snapshot
	err = json.Unmarshal(data, &restored)
	require.NoError(t, err)

	assert.Equal(t, original.AggregateID, restored.AggregateID)
	assert.Equal(t, original.AggregateType, restored.AggregateType)
	assert.Equal(t, original.Version, restored.Version)
	assert.JSONEq(t, string(original.State), string(restored.State))
}

func TestSnapshot_StateContainsValidJSON(t *testing.T) {
	type ProjectState struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}

	originalState := ProjectState{
		ID:      "proj-123",
		Name:    "Apollo",
		Members: []string{"user-1", "user-2"},
	}

	stateJSON, err := json.Marshal(originalState)
	require.NoError(t, err)

	snapshot := &Snapshot{
		AggregateID:   "proj-123",
		AggregateType: "Project",
		Version:       10,
		State:         stateJSON,
		CreatedAt:     time.Now(),
	}

	var restored ProjectState
	err = json.Unmarshal(snapshot.State, &restored)
	require.NoError(t, err)
	assert.Equal(t, originalState, restored)
}
