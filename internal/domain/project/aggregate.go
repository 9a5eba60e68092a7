package project

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

const AggregateType = "Project"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidName     = errors.New("project name is required")
	ErrProjectArchived = errors.New("project is archived")
	ErrMemberExists    = errors.New("user is already a project member")
	ErrMemberNotFound  = errors.New("user is not a project member")
)

// Project represents a project aggregate. Archiving is a tombstone flag, not
// a deletion: the event history stays intact and replayable.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	Members     []string  `json:"members"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"` // Current event version
}

// Aggregate interface implementation
func (p *Project) GetID() string    { return p.ID }
func (p *Project) GetVersion() int  { return p.Version }
func (p *Project) SetVersion(v int) { p.Version = v }

func (p *Project) hasMember(userID string) bool {
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ApplyEvent applies a single event to the project state (implements
// aggregate.Aggregate). Unknown event types leave the state unchanged so old
// code tolerates events appended by newer code; a known event type whose
// payload does not unmarshal is a hard error.
func (p *Project) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventProjectCreated:
		var data ProjectCreated
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		p.ID = data.ProjectID
		p.Name = data.Name
		p.Description = data.Description
		p.OwnerID = data.OwnerID
		p.Members = []string{data.OwnerID}
		p.CreatedAt = data.CreatedAt
		p.UpdatedAt = data.CreatedAt
	case EventProjectRenamed:
		var data ProjectRenamed
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		p.Name = data.Name
		p.UpdatedAt = data.RenamedAt
	case EventProjectMemberAdded:
		var data ProjectMemberAdded
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		if !p.hasMember(data.UserID) {
			p.Members = append(p.Members, data.UserID)
		}
		p.UpdatedAt = data.AddedAt
	case EventProjectMemberRemoved:
		var data ProjectMemberRemoved
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		members := make([]string, 0, len(p.Members))
		for _, m := range p.Members {
			if m != data.UserID {
				members = append(members, m)
			}
		}
		p.Members = members
		p.UpdatedAt = data.RemovedAt
	case EventProjectArchived:
		var data ProjectArchived
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		p.Archived = true
		p.UpdatedAt = data.ArchivedAt
	}
	p.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStore
}

func NewService(es store.EventStore) *Service {
	return &Service{eventStore: es}
}

// loadProject loads a project by replaying events, using snapshot if available
func (s *Service) loadProject(ctx context.Context, projectID string) (*Project, error) {
	proj, found, err := aggregate.Load(ctx, s.eventStore, projectID, func() *Project {
		return &Project{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrProjectNotFound
	}
	return proj, nil
}

// Get returns the current projected state of a project.
func (s *Service) Get(ctx context.Context, projectID string) (*Project, error) {
	return s.loadProject(ctx, projectID)
}

func (s *Service) Create(ctx context.Context, name, description, ownerID string) (*Project, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	projectID := uuid.New().String()
	now := time.Now()

	event := ProjectCreated{
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
	}

	storedEvent, err := s.eventStore.Append(ctx, projectID, AggregateType, EventProjectCreated, event, 0, store.WithActor(ownerID))
	if err != nil {
		return nil, err
	}

	proj := &Project{
		ID:          projectID,
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Members:     []string{ownerID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     storedEvent.Version,
	}
	return proj, nil
}

func (s *Service) Rename(ctx context.Context, projectID, name, actorID string) error {
	if name == "" {
		return ErrInvalidName
	}

	proj, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Archived {
		return ErrProjectArchived
	}

	event := ProjectRenamed{
		ProjectID: projectID,
		Name:      name,
		RenamedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, proj, EventProjectRenamed, event, actorID)
}

func (s *Service) AddMember(ctx context.Context, projectID, userID, actorID string) error {
	proj, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Archived {
		return ErrProjectArchived
	}
	if proj.hasMember(userID) {
		return ErrMemberExists
	}

	event := ProjectMemberAdded{
		ProjectID: projectID,
		UserID:    userID,
		AddedAt:   time.Now(),
	}

	return s.appendAndSnapshot(ctx, proj, EventProjectMemberAdded, event, actorID)
}

func (s *Service) RemoveMember(ctx context.Context, projectID, userID, actorID string) error {
	proj, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Archived {
		return ErrProjectArchived
	}
	if !proj.hasMember(userID) {
		return ErrMemberNotFound
	}

	event := ProjectMemberRemoved{
		ProjectID: projectID,
		UserID:    userID,
		RemovedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, proj, EventProjectMemberRemoved, event, actorID)
}

func (s *Service) Archive(ctx context.Context, projectID, reason, actorID string) error {
	proj, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Archived {
		return ErrProjectArchived
	}

	event := ProjectArchived{
		ProjectID:  projectID,
		Reason:     reason,
		ArchivedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, proj, EventProjectArchived, event, actorID)
}

// appendAndSnapshot appends with the loaded version as expectedVersion and
// opportunistically refreshes the snapshot.
func (s *Service) appendAndSnapshot(ctx context.Context, proj *Project, eventType string, payload any, actorID string) error {
	storedEvent, err := s.eventStore.Append(ctx, proj.ID, AggregateType, eventType, payload, proj.Version, store.WithActor(actorID))
	if err != nil {
		return err
	}

	if err := proj.ApplyEvent(*storedEvent); err != nil {
		return err
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, proj, AggregateType); err != nil {
		log.Printf("[Project] Failed to create snapshot for project %s: %v", proj.ID, err)
	}
	return nil
}
