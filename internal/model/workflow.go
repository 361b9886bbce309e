package model

import "time"

type StepFailurePolicy string

const (
	StepFailureContinue StepFailurePolicy = "continue"
	StepFailureAbort    StepFailurePolicy = "abort"
)

type Workflow struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Steps         []WorkflowStep    `json:"steps"`
	OnStepFailure StepFailurePolicy `json:"on_step_failure"`
	IsActive      bool              `json:"is_active"`
	CreatedAt     time.Time         `json:"created_at"`
}

type WorkflowStep struct {
	AgentName    string                 `json:"agent_name"`
	TaskType     string                 `json:"task_type"`
	DependsOn    []string               `json:"depends_on,omitempty"`
	InputMapping map[string]InputSource `json:"input_mapping,omitempty"`
}

type ActivityLog struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
