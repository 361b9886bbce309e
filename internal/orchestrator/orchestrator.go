// Package orchestrator runs agent tasks and sequential workflows. Every task
// status change is a compare-and-set on the stored status, so an external
// cancellation always wins over a late execution result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sita/internal/llm"
	"sita/internal/model"
	"sita/pkg/logger"
	"sita/pkg/metrics"
)

const (
	maxListLimit = 50

	// finishTimeout bounds a terminal write made after the caller went away.
	finishTimeout = 10 * time.Second

	// StatusQueued is reported to callers of QueueTask and RetryTask.
	StatusQueued = "queued"
)

// TaskRequest is the caller-supplied part of a task.
type TaskRequest struct {
	AgentID      string         `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	TaskType     string         `json:"task_type"`
	InputData    map[string]any `json:"input_data"`
	Context      map[string]any `json:"context"`
	Priority     int            `json:"priority"`
	// MaxRetries nil means the default; an explicit 0 forbids retries.
	MaxRetries   *int           `json:"max_retries"`
	WorkflowID   string         `json:"workflow_id"`
	ParentTaskID string         `json:"parent_task_id"`
}

type TaskResult struct {
	TaskID string         `json:"task_id"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
}

type Orchestrator struct {
	tasks     TaskStore
	agents    AgentStore
	workflows WorkflowStore
	activity  ActivityStore
	generator llm.Generator
	logger    *zap.Logger

	timeout time.Duration
	now     func() time.Time
}

func New(
	tasks TaskStore,
	agents AgentStore,
	workflows WorkflowStore,
	activity ActivityStore,
	generator llm.Generator,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tasks:     tasks,
		agents:    agents,
		workflows: workflows,
		activity:  activity,
		generator: generator,
		logger:    logger,
		timeout:   60 * time.Second,
		now:       time.Now,
	}
}

// WithTimeout bounds every generation call; zero disables the bound.
func (o *Orchestrator) WithTimeout(d time.Duration) *Orchestrator {
	o.timeout = d
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ExecuteTask creates a processing task and runs it to a terminal state. The
// returned result is non-nil whenever a task row was created, including when
// the execution failed.
func (o *Orchestrator) ExecuteTask(ctx context.Context, userID string, req TaskRequest) (*TaskResult, error) {
	if err := validateRequest(req, true); err != nil {
		return nil, err
	}

	agent, err := o.resolveAgent(ctx, req.AgentID, req.AgentName)
	if err != nil {
		return nil, err
	}

	started := o.now()
	task := o.newTask(userID, req, model.TaskStatusProcessing)
	task.AgentID = &agent.ID
	task.StartedAt = &started

	if err := o.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return o.run(ctx, task, agent)
}

// QueueTask stores a pending task for a worker. An unknown agent is not an
// error here; the worker resolves it again before running.
func (o *Orchestrator) QueueTask(ctx context.Context, userID string, req TaskRequest) (*TaskResult, error) {
	if err := validateRequest(req, false); err != nil {
		return nil, err
	}

	task := o.newTask(userID, req, model.TaskStatusPending)
	if agent, err := o.resolveAgent(ctx, req.AgentID, req.AgentName); err == nil {
		task.AgentID = &agent.ID
	} else if !errors.Is(err, ErrAgentNotFound) {
		return nil, err
	}

	if err := o.tasks.EnqueueTask(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	metrics.IncrementAgentTask(task.TaskType, string(model.TaskStatusPending))
	logger.WithTrace(ctx, o.logger).Info("Task queued",
		zap.String("task_id", task.ID),
		zap.String("user_id", userID),
		zap.String("task_type", task.TaskType),
		zap.Bool("agent_resolved", task.AgentID != nil),
	)
	return &TaskResult{TaskID: task.ID, Status: StatusQueued}, nil
}

// RunPending claims a pending task and executes it. It is the worker's entry
// point and is not scoped to a user.
func (o *Orchestrator) RunPending(ctx context.Context, taskID string) (*TaskResult, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusPending {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
	}

	agentID := ""
	if task.AgentID != nil {
		agentID = *task.AgentID
	}
	agent, err := o.resolveAgent(ctx, agentID, task.AgentName)
	if err != nil {
		if !errors.Is(err, ErrAgentNotFound) {
			return nil, err
		}
		wctx, cancel := finishContext(ctx)
		defer cancel()

		msg := err.Error()
		done := o.now()
		ok, terr := o.tasks.Transition(wctx, task.ID, []model.TaskStatus{model.TaskStatusPending}, model.TaskTransition{
			To:           model.TaskStatusFailed,
			ErrorMessage: &msg,
			CompletedAt:  &done,
		})
		if terr != nil {
			return nil, fmt.Errorf("fail task: %w", terr)
		}
		if !ok {
			return o.discardLate(wctx, task, logger.WithTrace(ctx, o.logger).With(zap.String("task_id", task.ID)))
		}
		task.Status = model.TaskStatusFailed
		task.ErrorMessage = &msg
		task.CompletedAt = &done
		o.recordOutcome(wctx, task)
		return &TaskResult{TaskID: task.ID, Status: string(model.TaskStatusFailed)}, err
	}

	started := o.now()
	ok, err := o.tasks.Transition(ctx, task.ID, []model.TaskStatus{model.TaskStatusPending}, model.TaskTransition{
		To:        model.TaskStatusProcessing,
		AgentID:   &agent.ID,
		StartedAt: &started,
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %s is no longer pending", ErrInvalidTransition, task.ID)
	}

	task.Status = model.TaskStatusProcessing
	task.AgentID = &agent.ID
	task.StartedAt = &started
	return o.run(ctx, task, agent)
}

// run calls the generator for a processing task and writes the terminal
// status. A task cancelled in the meantime keeps its cancelled status.
func (o *Orchestrator) run(ctx context.Context, task *model.AgentTask, agent *model.Agent) (*TaskResult, error) {
	log := logger.WithTrace(ctx, o.logger).With(
		zap.String("task_id", task.ID),
		zap.String("agent", agent.Name),
		zap.String("task_type", task.TaskType),
	)

	genCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	gen, genErr := o.generator.Generate(genCtx, buildPrompt(agent, task))
	done := o.now()

	// The terminal write must land even if the caller went away meanwhile.
	wctx, cancel := finishContext(ctx)
	defer cancel()
	processing := []model.TaskStatus{model.TaskStatusProcessing}

	if genErr != nil {
		msg := genErr.Error()
		ok, err := o.tasks.Transition(wctx, task.ID, processing, model.TaskTransition{
			To:           model.TaskStatusFailed,
			ErrorMessage: &msg,
			CompletedAt:  &done,
		})
		if err != nil {
			log.Error("Failed to record task failure", zap.Error(err))
			return nil, fmt.Errorf("record failure: %w", err)
		}
		if !ok {
			return o.discardLate(wctx, task, log)
		}

		task.Status = model.TaskStatusFailed
		task.ErrorMessage = &msg
		task.CompletedAt = &done
		o.recordOutcome(wctx, task)
		log.Warn("Task failed", zap.Error(genErr))
		return &TaskResult{TaskID: task.ID, Status: string(task.Status)}, &ExecutionError{TaskID: task.ID, Err: genErr}
	}

	output := map[string]any{
		"result": gen.Text,
		"model":  gen.Model,
	}
	if gen.Degraded {
		output["degraded"] = true
	}

	ok, err := o.tasks.Transition(wctx, task.ID, processing, model.TaskTransition{
		To:          model.TaskStatusCompleted,
		OutputData:  output,
		CompletedAt: &done,
	})
	if err != nil {
		log.Error("Failed to record task result", zap.Error(err))
		return nil, fmt.Errorf("record result: %w", err)
	}
	if !ok {
		return o.discardLate(wctx, task, log)
	}

	task.Status = model.TaskStatusCompleted
	task.OutputData = output
	task.CompletedAt = &done
	o.recordOutcome(wctx, task)
	log.Info("Task completed", zap.Bool("degraded", gen.Degraded))
	return &TaskResult{TaskID: task.ID, Status: string(task.Status), Output: output}, nil
}

// finishContext detaches terminal writes from the caller's cancellation while
// keeping its values (trace id) and bounding the write itself.
func finishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

func (o *Orchestrator) discardLate(ctx context.Context, task *model.AgentTask, log *zap.Logger) (*TaskResult, error) {
	current, err := o.tasks.GetTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("reload task: %w", err)
	}
	log.Warn("Discarding late result", zap.String("status", string(current.Status)))
	if current.Status == model.TaskStatusCancelled {
		return &TaskResult{TaskID: task.ID, Status: string(current.Status)}, ErrTaskCancelled
	}
	return &TaskResult{TaskID: task.ID, Status: string(current.Status)}, ErrInvalidTransition
}

// CancelTask moves a pending or processing task to cancelled.
func (o *Orchestrator) CancelTask(ctx context.Context, userID, taskID string) (*model.AgentTask, error) {
	task, err := o.getOwnedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	done := o.now()
	ok, err := o.tasks.Transition(ctx, task.ID,
		[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing},
		model.TaskTransition{To: model.TaskStatusCancelled, CompletedAt: &done},
	)
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	if !ok {
		current, gerr := o.getTask(ctx, task.ID)
		if gerr == nil {
			task = current
		}
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
	}

	task.Status = model.TaskStatusCancelled
	task.CompletedAt = &done
	o.recordOutcome(ctx, task)
	return task, nil
}

// RetryTask queues a new attempt of a failed task. The failed task is left as
// it is; the new one points back at it through parent_task_id.
func (o *Orchestrator) RetryTask(ctx context.Context, userID, taskID string) (*TaskResult, error) {
	orig, err := o.getOwnedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if orig.Status != model.TaskStatusFailed {
		return nil, fmt.Errorf("%w: only failed tasks can be retried, task %s is %s", ErrInvalidTransition, orig.ID, orig.Status)
	}
	if orig.RetryCount >= orig.MaxRetries {
		return nil, fmt.Errorf("%w: %d of %d", ErrRetryLimit, orig.RetryCount, orig.MaxRetries)
	}

	parent := orig.ID
	retry := &model.AgentTask{
		ID:           uuid.NewString(),
		AgentID:      orig.AgentID,
		AgentName:    orig.AgentName,
		UserID:       orig.UserID,
		TaskType:     orig.TaskType,
		InputData:    orig.InputData,
		Context:      orig.Context,
		Priority:     orig.Priority,
		WorkflowID:   orig.WorkflowID,
		ParentTaskID: &parent,
		Status:       model.TaskStatusPending,
		RetryCount:   orig.RetryCount + 1,
		MaxRetries:   orig.MaxRetries,
		CreatedAt:    o.now(),
	}
	if err := o.tasks.EnqueueTask(ctx, retry); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}

	logger.WithTrace(ctx, o.logger).Info("Task retry queued",
		zap.String("task_id", retry.ID),
		zap.String("parent_task_id", parent),
		zap.Int("retry_count", retry.RetryCount),
	)
	return &TaskResult{TaskID: retry.ID, Status: StatusQueued}, nil
}

func (o *Orchestrator) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := o.agents.ListActiveAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// ListTasks returns the caller's tasks, newest first, at most 50.
func (o *Orchestrator) ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]model.AgentTask, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, invalid("unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	tasks, err := o.tasks.ListTasks(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (o *Orchestrator) GetTask(ctx context.Context, userID, taskID string) (*model.AgentTask, error) {
	return o.getOwnedTask(ctx, userID, taskID)
}

// DeletePendingTask removes a task that belongs to the caller and has not
// started yet.
func (o *Orchestrator) DeletePendingTask(ctx context.Context, userID, taskID string) error {
	ok, err := o.tasks.DeletePendingTask(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if ok {
		return nil
	}
	task, err := o.getOwnedTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
}

func (o *Orchestrator) resolveAgent(ctx context.Context, id, name string) (*model.Agent, error) {
	if id != "" {
		agent, err := o.agents.GetAgent(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("get agent: %w", err)
		}
		if !agent.IsActive {
			return nil, fmt.Errorf("%w: %s is inactive", ErrAgentNotFound, id)
		}
		return agent, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: no agent given", ErrAgentNotFound)
	}
	agents, err := o.agents.FindActiveAgents(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	if len(agents) != 1 {
		return nil, fmt.Errorf("%w: %d active agents named %q", ErrAgentNotFound, len(agents), name)
	}
	return &agents[0], nil
}

func (o *Orchestrator) getTask(ctx context.Context, taskID string) (*model.AgentTask, error) {
	task, err := o.tasks.GetTask(ctx, taskID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// getOwnedTask hides tasks of other users behind ErrTaskNotFound.
func (o *Orchestrator) getOwnedTask(ctx context.Context, userID, taskID string) (*model.AgentTask, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// recordOutcome counts the terminal status and writes the activity entry.
// Activity failures are logged only.
func (o *Orchestrator) recordOutcome(ctx context.Context, task *model.AgentTask) {
	metrics.IncrementAgentTask(task.TaskType, string(task.Status))

	entry := &model.ActivityLog{
		UserID:     task.UserID,
		Action:     "agent_task." + string(task.Status),
		EntityType: "agent_task",
		EntityID:   task.ID,
		Metadata: map[string]any{
			"task_type": task.TaskType,
			"status":    string(task.Status),
		},
		CreatedAt: o.now(),
	}
	if task.WorkflowID != nil {
		entry.Metadata["workflow_id"] = *task.WorkflowID
	}
	if err := o.activity.RecordActivity(ctx, entry); err != nil {
		logger.WithTrace(ctx, o.logger).Error("Failed to record activity",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

func validateRequest(req TaskRequest, needAgent bool) error {
	if strings.TrimSpace(req.TaskType) == "" {
		return invalid("task_type is required")
	}
	if needAgent && req.AgentID == "" && strings.TrimSpace(req.AgentName) == "" {
		return invalid("agent_id or agent_name is required")
	}
	if req.Priority != 0 && (req.Priority < 1 || req.Priority > 10) {
		return invalid("priority must be between 1 and 10")
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return invalid("max_retries must not be negative")
	}
	return nil
}

func (o *Orchestrator) newTask(userID string, req TaskRequest, status model.TaskStatus) *model.AgentTask {
	t := &model.AgentTask{
		ID:         uuid.NewString(),
		AgentName:  strings.TrimSpace(req.AgentName),
		UserID:     userID,
		TaskType:   strings.TrimSpace(req.TaskType),
		InputData:  req.InputData,
		Context:    req.Context,
		Priority:   req.Priority,
		Status:     status,
		MaxRetries: model.DefaultTaskMaxRetries,
		CreatedAt:  o.now(),
	}
	if t.InputData == nil {
		t.InputData = map[string]any{}
	}
	if t.Priority == 0 {
		t.Priority = model.DefaultTaskPriority
	}
	if req.MaxRetries != nil {
		t.MaxRetries = *req.MaxRetries
	}
	if req.WorkflowID != "" {
		wf := req.WorkflowID
		t.WorkflowID = &wf
	}
	if req.ParentTaskID != "" {
		parent := req.ParentTaskID
		t.ParentTaskID = &parent
	}
	return t
}
