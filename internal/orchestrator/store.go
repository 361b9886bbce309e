package orchestrator

import (
	"context"

	"sita/internal/model"
)

// TaskStore persists agent tasks. Lookups of missing rows return
// model.ErrNotFound.
type TaskStore interface {
	CreateTask(ctx context.Context, t *model.AgentTask) error
	// EnqueueTask stores a pending task and announces it to workers.
	EnqueueTask(ctx context.Context, t *model.AgentTask) error
	GetTask(ctx context.Context, id string) (*model.AgentTask, error)
	ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]model.AgentTask, error)
	// Transition applies tr only while the stored status is one of from and
	// reports whether it did.
	Transition(ctx context.Context, id string, from []model.TaskStatus, tr model.TaskTransition) (bool, error)
	DeletePendingTask(ctx context.Context, userID, id string) (bool, error)
}

type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	// FindActiveAgents returns active agents with the given name.
	FindActiveAgents(ctx context.Context, name string) ([]model.Agent, error)
	// ListActiveAgents returns active agents ordered by module.
	ListActiveAgents(ctx context.Context) ([]model.Agent, error)
}

type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, userID, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]model.Workflow, error)
}

type ActivityStore interface {
	RecordActivity(ctx context.Context, entry *model.ActivityLog) error
}
