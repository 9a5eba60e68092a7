package user

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/example/pm-event-driven/internal/domain/aggregate"
	"github.com/example/pm-event-driven/internal/infrastructure/store"
	"github.com/google/uuid"
)

const AggregateType = "User"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidEmail    = errors.New("email is required")
	ErrInvalidName     = errors.New("name is required")
	ErrUserDeactivated = errors.New("user account is deactivated")
	ErrUserActive      = errors.New("user account is already active")
)

// User represents a user aggregate. Credentials and sessions live outside
// this core; only identity facts are event-sourced here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"` // Current event version
}

// Aggregate interface implementation
func (u *User) GetID() string    { return u.ID }
func (u *User) GetVersion() int  { return u.Version }
func (u *User) SetVersion(v int) { u.Version = v }

// ApplyEvent applies a single event to the user state (implements
// aggregate.Aggregate). Unknown event types are tolerated; malformed payloads
// for known types are hard errors.
func (u *User) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventUserRegistered:
		var data UserRegistered
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		u.ID = data.UserID
		u.Email = data.Email
		u.Name = data.Name
		u.Active = true
		u.CreatedAt = data.RegisteredAt
		u.UpdatedAt = data.RegisteredAt
	case EventUserRenamed:
		var data UserRenamed
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		u.Name = data.Name
		u.UpdatedAt = data.RenamedAt
	case EventUserDeactivated:
		var data UserDeactivated
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		u.Active = false
		u.UpdatedAt = data.DeactivatedAt
	case EventUserReactivated:
		var data UserReactivated
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		u.Active = true
		u.UpdatedAt = data.ReactivatedAt
	}
	u.Version = event.Version
	return nil
}

// Service handles user domain operations
type Service struct {
	eventStore store.EventStore
}

// NewService creates a new user service
func NewService(es store.EventStore) *Service {
	return &Service{eventStore: es}
}

// loadUser loads a user by replaying events, using snapshot if available
func (s *Service) loadUser(ctx context.Context, userID string) (*User, error) {
	u, found, err := aggregate.Load(ctx, s.eventStore, userID, func() *User {
		return &User{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Get returns the current projected state of a user.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	return s.loadUser(ctx, userID)
}

// Register creates a new user
func (s *Service) Register(ctx context.Context, email, name string) (*User, error) {
	if email == "" {
		return nil, ErrInvalidEmail
	}
	if name == "" {
		return nil, ErrInvalidName
	}

	userID := uuid.New().String()
	now := time.Now()

	event := UserRegistered{
		UserID:       userID,
		Email:        email,
		Name:         name,
		RegisteredAt: now,
	}

	storedEvent, err := s.eventStore.Append(ctx, userID, AggregateType, EventUserRegistered, event, 0, store.WithActor(userID))
	if err != nil {
		return nil, err
	}

	return &User{
		ID:        userID,
		Email:     email,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   storedEvent.Version,
	}, nil
}

// Rename changes the user's display name
func (s *Service) Rename(ctx context.Context, userID, name, actorID string) error {
	if name == "" {
		return ErrInvalidName
	}

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.Active {
		return ErrUserDeactivated
	}

	event := UserRenamed{
		UserID:    userID,
		Name:      name,
		RenamedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, u, EventUserRenamed, event, actorID)
}

// Deactivate disables the user account
func (s *Service) Deactivate(ctx context.Context, userID, reason, actorID string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.Active {
		return ErrUserDeactivated
	}

	event := UserDeactivated{
		UserID:        userID,
		Reason:        reason,
		DeactivatedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, u, EventUserDeactivated, event, actorID)
}

// Reactivate re-enables a deactivated user account
func (s *Service) Reactivate(ctx context.Context, userID, actorID string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Active {
		return ErrUserActive
	}

	event := UserReactivated{
		UserID:        userID,
		ReactivatedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, u, EventUserReactivated, event, actorID)
}

// appendAndSnapshot appends with the loaded version as expectedVersion and
// opportunistically refreshes the snapshot.
func (s *Service) appendAndSnapshot(ctx context.Context, u *User, eventType string, payload any, actorID string) error {
	storedEvent, err := s.eventStore.Append(ctx, u.ID, AggregateType, eventType, payload, u.Version, store.WithActor(actorID))
	if err != nil {
		return err
	}

	if err := u.ApplyEvent(*storedEvent); err != nil {
		return err
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, u, AggregateType); err != nil {
		log.Printf("[User] Failed to create snapshot for user %s: %v", u.ID, err)
	}
	return nil
}
