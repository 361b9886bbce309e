package model

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

const (
	DefaultTaskPriority   = 5
	DefaultTaskMaxRetries = 3
)

type AgentTask struct {
	ID           string         `json:"id"`
	AgentID      *string        `json:"agent_id"`
	AgentName    string         `json:"agent_name,omitempty"`
	UserID       string         `json:"user_id"`
	TaskType     string         `json:"task_type"`
	InputData    map[string]any `json:"input_data"`
	Context      map[string]any `json:"context,omitempty"`
	Priority     int            `json:"priority"`
	WorkflowID   *string        `json:"workflow_id,omitempty"`
	ParentTaskID *string        `json:"parent_task_id,omitempty"`
	Status       TaskStatus     `json:"status"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// TaskTransition describes a status change and the fields written with it.
// Nil fields are left untouched.
type TaskTransition struct {
	To           TaskStatus
	AgentID      *string
	OutputData   map[string]any
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type TaskFilter struct {
	Status TaskStatus
	Limit  int
}
