package command

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/pm-event-driven/internal/domain/project"
	"github.com/example/pm-event-driven/internal/domain/task"
	"github.com/example/pm-event-driven/internal/domain/user"
	"github.com/example/pm-event-driven/internal/infrastructure/store"
)

// maxConflictRetries bounds immediate retries after a concurrency conflict.
// Each retry reloads state, so the recomputed command sees the writer that
// beat it.
const maxConflictRetries = 3

type Handler struct {
	projectSvc *project.Service
	taskSvc    *task.Service
	userSvc    *user.Service
}

func NewHandler(projectSvc *project.Service, taskSvc *task.Service, userSvc *user.Service) *Handler {
	return &Handler{
		projectSvc: projectSvc,
		taskSvc:    taskSvc,
		userSvc:    userSvc,
	}
}

// retry applies the retry policy: concurrency conflicts retry immediately
// after the domain service reloads state; persistence failures retry with
// exponential backoff; validation errors never retry.
func retry(ctx context.Context, op func() error) error {
	conflicts := 0
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConcurrencyConflict) {
			conflicts++
			if conflicts > maxConflictRetries {
				return backoff.Permanent(err)
			}
			log.Printf("[Command] Concurrency conflict, retrying (%d/%d)", conflicts, maxConflictRetries)
			return err
		}
		var pe *store.PersistenceError
		if errors.As(err, &pe) {
			return err
		}
		// Validation and domain errors are not retryable.
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// Projects

func (h *Handler) CreateProject(ctx context.Context, cmd CreateProject) (*project.Project, error) {
	var p *project.Project
	err := retry(ctx, func() error {
		var err error
		p, err = h.projectSvc.Create(ctx, cmd.Name, cmd.Description, cmd.OwnerID)
		return err
	})
	return p, err
}

func (h *Handler) RenameProject(ctx context.Context, cmd RenameProject) error {
	return retry(ctx, func() error {
		return h.projectSvc.Rename(ctx, cmd.ProjectID, cmd.Name, cmd.ActorID)
	})
}

func (h *Handler) ArchiveProject(ctx context.Context, cmd ArchiveProject) error {
	return retry(ctx, func() error {
		return h.projectSvc.Archive(ctx, cmd.ProjectID, cmd.Reason, cmd.ActorID)
	})
}

func (h *Handler) AddProjectMember(ctx context.Context, cmd AddProjectMember) error {
	return retry(ctx, func() error {
		return h.projectSvc.AddMember(ctx, cmd.ProjectID, cmd.UserID, cmd.ActorID)
	})
}

func (h *Handler) RemoveProjectMember(ctx context.Context, cmd RemoveProjectMember) error {
	return retry(ctx, func() error {
		return h.projectSvc.RemoveMember(ctx, cmd.ProjectID, cmd.UserID, cmd.ActorID)
	})
}

// Tasks

func (h *Handler) CreateTask(ctx context.Context, cmd CreateTask) (*task.Task, error) {
	var t *task.Task
	err := retry(ctx, func() error {
		var err error
		t, err = h.taskSvc.Create(ctx, cmd.ProjectID, cmd.Title, cmd.Description, cmd.ActorID)
		return err
	})
	return t, err
}

func (h *Handler) AssignTask(ctx context.Context, cmd AssignTask) error {
	return retry(ctx, func() error {
		return h.taskSvc.Assign(ctx, cmd.TaskID, cmd.AssigneeID, cmd.ActorID)
	})
}

func (h *Handler) ChangeTaskStatus(ctx context.Context, cmd ChangeTaskStatus) error {
	return retry(ctx, func() error {
		return h.taskSvc.ChangeStatus(ctx, cmd.TaskID, task.Status(cmd.To), cmd.ActorID)
	})
}

func (h *Handler) SetTaskDueDate(ctx context.Context, cmd SetTaskDueDate) error {
	return retry(ctx, func() error {
		return h.taskSvc.SetDueDate(ctx, cmd.TaskID, cmd.DueAt, cmd.ActorID)
	})
}

func (h *Handler) DeleteTask(ctx context.Context, cmd DeleteTask) error {
	return retry(ctx, func() error {
		return h.taskSvc.Delete(ctx, cmd.TaskID, cmd.Reason, cmd.ActorID)
	})
}

// Users

func (h *Handler) RegisterUser(ctx context.Context, cmd RegisterUser) (*user.User, error) {
	var u *user.User
	err := retry(ctx, func() error {
		var err error
		u, err = h.userSvc.Register(ctx, cmd.Email, cmd.Name)
		return err
	})
	return u, err
}

func (h *Handler) DeactivateUser(ctx context.Context, cmd DeactivateUser) error {
	return retry(ctx, func() error {
		return h.userSvc.Deactivate(ctx, cmd.UserID, cmd.Reason, cmd.ActorID)
	})
}
