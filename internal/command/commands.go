package command

import "time"

// Commands are plain requests from callers; each handler method maps one
// command to one or more domain operations.

type CreateProject struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

type RenameProject struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	ActorID   string `json:"actor_id"`
}

type ArchiveProject struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
	ActorID   string `json:"actor_id"`
}

type AddProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	ActorID   string `json:"actor_id"`
}

type RemoveProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	ActorID   string `json:"actor_id"`
}

type CreateTask struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ActorID     string `json:"actor_id"`
}

type AssignTask struct {
	TaskID     string `json:"task_id"`
	AssigneeID string `json:"assignee_id"`
	ActorID    string `json:"actor_id"`
}

type ChangeTaskStatus struct {
	TaskID  string `json:"task_id"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
}

type SetTaskDueDate struct {
	TaskID  string    `json:"task_id"`
	DueAt   time.Time `json:"due_at"`
	ActorID string    `json:"actor_id"`
}

type DeleteTask struct {
	TaskID  string `json:"task_id"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type RegisterUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type DeactivateUser struct {
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}
