package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/pm-event-driven/internal/domain/aggregate"
	"github.com/example/pm-event-driven/internal/infrastructure/store"
	"github.com/google/uuid"
)

const AggregateType = "Task"

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidTitle  = errors.New("task title is required")
	ErrInvalidStatus = errors.New("invalid task status transition")
	ErrTaskDeleted   = errors.New("task is deleted")
	ErrTaskDone      = errors.New("task is already done")
	ErrTaskCancelled = errors.New("task is cancelled")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress, StatusDone, StatusCancelled},
	StatusInProgress: {StatusTodo, StatusDone, StatusCancelled},
	StatusDone:       {StatusInProgress}, // reopen
	StatusCancelled:  {},                 // terminal state
}

// CanTransitionTo checks if the task can transition to the target status
func (t *Task) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[t.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (t *Task) transitionError(target Status) error {
	switch {
	case t.Status == StatusCancelled:
		return ErrTaskCancelled
	case t.Status == StatusDone && target == StatusDone:
		return ErrTaskDone
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, t.Status, target)
	}
}

// Task represents a task aggregate. Deletion is a tombstone event interpreted
// here, not a row removal in the event store.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  string     `json:"assignee_id"`
	Status      Status     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Deleted     bool       `json:"deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int        `json:"version"` // Current event version
}

// Aggregate interface implementation
func (t *Task) GetID() string    { return t.ID }
func (t *Task) GetVersion() int  { return t.Version }
func (t *Task) SetVersion(v int) { t.Version = v }

// ApplyEvent applies a single event to the task state (implements
// aggregate.Aggregate). Unknown event types are tolerated without touching
// state; a known event type with a malformed payload is a hard error.
func (t *Task) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventTaskCreated:
		var data TaskCreated
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		t.ID = data.TaskID
		t.ProjectID = data.ProjectID
		t.Title = data.Title
		t.Description = data.Description
		t.Status = StatusTodo
		t.CreatedAt = data.CreatedAt
		t.UpdatedAt = data.CreatedAt
	case EventTaskAssigned:
		var data TaskAssigned
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		t.AssigneeID = data.AssigneeID
		t.UpdatedAt = data.AssignedAt
	case EventTaskStatusChanged:
		var data TaskStatusChanged
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		t.Status = data.To
		t.UpdatedAt = data.ChangedAt
	case EventTaskDueDateSet:
		var data TaskDueDateSet
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		due := data.DueAt
		t.DueAt = &due
		t.UpdatedAt = data.SetAt
	case EventTaskDeleted:
		var data TaskDeleted
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			return err
		}
		t.Deleted = true
		t.UpdatedAt = data.DeletedAt
	}
	t.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStore
}

func NewService(es store.EventStore) *Service {
	return &Service{eventStore: es}
}

// loadTask loads a task by replaying events, using snapshot if available
func (s *Service) loadTask(ctx context.Context, taskID string) (*Task, error) {
	task, found, err := aggregate.Load(ctx, s.eventStore, taskID, func() *Task {
		return &Task{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Get returns the current projected state of a task.
func (s *Service) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.loadTask(ctx, taskID)
}

func (s *Service) Create(ctx context.Context, projectID, title, description, actorID string) (*Task, error) {
	if title == "" {
		return nil, ErrInvalidTitle
	}

	taskID := uuid.New().String()
	now := time.Now()

	event := TaskCreated{
		TaskID:      taskID,
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
	}

	storedEvent, err := s.eventStore.Append(ctx, taskID, AggregateType, EventTaskCreated, event, 0, store.WithActor(actorID))
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:          taskID,
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Status:      StatusTodo,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     storedEvent.Version,
	}
	return task, nil
}

func (s *Service) Assign(ctx context.Context, taskID, assigneeID, actorID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return ErrTaskDeleted
	}

	event := TaskAssigned{
		TaskID:     taskID,
		AssigneeID: assigneeID,
		AssignedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, task, EventTaskAssigned, event, actorID)
}

func (s *Service) ChangeStatus(ctx context.Context, taskID string, to Status, actorID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return ErrTaskDeleted
	}
	if !task.CanTransitionTo(to) {
		return task.transitionError(to)
	}

	event := TaskStatusChanged{
		TaskID:    taskID,
		From:      task.Status,
		To:        to,
		ChangedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, task, EventTaskStatusChanged, event, actorID)
}

func (s *Service) SetDueDate(ctx context.Context, taskID string, dueAt time.Time, actorID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return ErrTaskDeleted
	}

	event := TaskDueDateSet{
		TaskID: taskID,
		DueAt:  dueAt,
		SetAt:  time.Now(),
	}

	return s.appendAndSnapshot(ctx, task, EventTaskDueDateSet, event, actorID)
}

func (s *Service) Delete(ctx context.Context, taskID, reason, actorID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return ErrTaskDeleted
	}

	event := TaskDeleted{
		TaskID:    taskID,
		Reason:    reason,
		DeletedAt: time.Now(),
	}

	return s.appendAndSnapshot(ctx, task, EventTaskDeleted, event, actorID)
}

// appendAndSnapshot appends with the loaded version as expectedVersion and
// opportunistically refreshes the snapshot.
func (s *Service) appendAndSnapshot(ctx context.Context, task *Task, eventType string, payload any, actorID string) error {
	storedEvent, err := s.eventStore.Append(ctx, task.ID, AggregateType, eventType, payload, task.Version, store.WithActor(actorID))
	if err != nil {
		return err
	}

	if err := task.ApplyEvent(*storedEvent); err != nil {
		return err
	}

	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, task, AggregateType); err != nil {
		log.Printf("[Task] Failed to create snapshot for task %s: %v", task.ID, err)
	}
	return nil
}
