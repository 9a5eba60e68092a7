package project

import "time"

const (
	EventProjectCreated       = "ProjectCreated"
	EventProjectRenamed       = "ProjectRenamed"
	EventProjectMemberAdded   = "ProjectMemberAdded"
	EventProjectMemberRemoved = "ProjectMemberRemoved"
	EventProjectArchived      = "ProjectArchived"
)

type ProjectCreated struct {
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProjectRenamed struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	RenamedAt time.Time `json:"renamed_at"`
}

type ProjectMemberAdded struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	AddedAt   time.Time `json:"added_at"`
}

type ProjectMemberRemoved struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	RemovedAt time.Time `json:"removed_at"`
}

type ProjectArchived struct {
	ProjectID  string    `json:"project_id"`
	Reason     string    `json:"reason"`
	ArchivedAt time.Time `json:"archived_at"`
}
