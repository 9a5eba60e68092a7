package task

import "time"

const (
	EventTaskCreated       = "TaskCreated"
	EventTaskAssigned      = "TaskAssigned"
	EventTaskStatusChanged = "TaskStatusChanged"
	EventTaskDueDateSet    = "TaskDueDateSet"
	EventTaskDeleted       = "TaskDeleted"
)

type TaskCreated struct {
	TaskID      string    `json:"task_id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type TaskAssigned struct {
	TaskID     string    `json:"task_id"`
	AssigneeID string    `json:"assignee_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

type TaskStatusChanged struct {
	TaskID    string    `json:"task_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type TaskDueDateSet struct {
	TaskID string    `json:"task_id"`
	DueAt  time.Time `json:"due_at"`
	SetAt  time.Time `json:"set_at"`
}

type TaskDeleted struct {
	TaskID    string    `json:"task_id"`
	Reason    string    `json:"reason"`
	DeletedAt time.Time `json:"deleted_at"`
}
