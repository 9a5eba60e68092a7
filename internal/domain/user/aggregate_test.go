package user

import (
	"context"
	"testing"

	"github.com/example/pm-event-driven/internal/infrastructure/store"
	"github.com/example/pm-event-driven/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore)
	return service, eventStore
}

func seedUser(eventStore *mocks.MockEventStore, userID string) {
	_ = eventStore.AddEvent(userID, AggregateType, EventUserRegistered, UserRegistered{
		UserID: userID,
		Email:  "alice@example.com",
		Name:   "Alice",
	})
}

// ============================================
// Register Tests
// ============================================

func TestService_Register_Success(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	u, err := service.Register(ctx, "alice@example.com", "Alice")

	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.Active)
	assert.Equal(t, 1, u.Version)

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventUserRegistered, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, 0, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Register_EmptyEmail(t *testing.T) {
	service, _ := newTestUserService()
	ctx := context.Background()

	u, err := service.Register(ctx, "", "Alice")

	assert.ErrorIs(t, err, ErrInvalidEmail)
	assert.Nil(t, u)
}

func TestService_Register_EmptyName(t *testing.T) {
	service, _ := newTestUserService()
	ctx := context.Background()

	u, err := service.Register(ctx, "alice@example.com", "")

	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Nil(t, u)
}

// ============================================
// Rename Tests
// ============================================

func TestService_Rename_Success(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")

	err := service.Rename(ctx, "user-1", "Alice B", "user-1")

	require.NoError(t, err)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventUserRenamed, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, 1, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Rename_Deactivated(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserDeactivated, UserDeactivated{UserID: "user-1"})

	err := service.Rename(ctx, "user-1", "Alice B", "user-1")

	assert.ErrorIs(t, err, ErrUserDeactivated)
}

// ============================================
// Deactivate / Reactivate Tests
// ============================================

func TestService_Deactivate_Success(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")

	err := service.Deactivate(ctx, "user-1", "left the company", "admin-1")

	require.NoError(t, err)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventUserDeactivated, eventStore.AppendCalls[0].EventType)
}

func TestService_Deactivate_AlreadyDeactivated(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserDeactivated, UserDeactivated{UserID: "user-1"})

	err := service.Deactivate(ctx, "user-1", "again", "admin-1")

	assert.ErrorIs(t, err, ErrUserDeactivated)
}

func TestService_Reactivate_Success(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserDeactivated, UserDeactivated{UserID: "user-1"})

	err := service.Reactivate(ctx, "user-1", "admin-1")

	require.NoError(t, err)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventUserReactivated, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, 2, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Reactivate_AlreadyActive(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")

	err := service.Reactivate(ctx, "user-1", "admin-1")

	assert.ErrorIs(t, err, ErrUserActive)
}

// ============================================
// Get Tests
// ============================================

func TestService_Get_ReplaysLifecycle(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserRenamed, UserRenamed{UserID: "user-1", Name: "Alice B"})
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserDeactivated, UserDeactivated{UserID: "user-1"})
	_ = eventStore.AddEvent("user-1", AggregateType, EventUserReactivated, UserReactivated{UserID: "user-1"})

	u, err := service.Get(ctx, "user-1")

	require.NoError(t, err)
	assert.Equal(t, "Alice B", u.Name)
	assert.True(t, u.Active)
	assert.Equal(t, 4, u.Version)
}

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestUserService()
	ctx := context.Background()

	u, err := service.Get(ctx, "missing")

	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Nil(t, u)
}

// ============================================
// Conflict Propagation Tests
// ============================================

func TestService_Deactivate_ConflictPropagates(t *testing.T) {
	service, eventStore := newTestUserService()
	ctx := context.Background()

	seedUser(eventStore, "user-1")
	eventStore.AppendErr = store.ErrConcurrencyConflict

	err := service.Deactivate(ctx, "user-1", "left", "admin-1")

	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
}
