package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sita/internal/model"
	"sita/pkg/logger"
	"sita/pkg/metrics"
)

const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"

	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

type WorkflowRequest struct {
	WorkflowID    string                  `json:"workflow_id"`
	Steps         []model.WorkflowStep    `json:"steps"`
	Context       map[string]any          `json:"context"`
	OnStepFailure model.StepFailurePolicy `json:"on_step_failure"`
}

type StepResult struct {
	Index     int            `json:"index"`
	AgentName string         `json:"agent_name"`
	TaskType  string         `json:"task_type"`
	TaskID    string         `json:"task_id,omitempty"`
	Status    string         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type WorkflowResult struct {
	RunID  string       `json:"workflow_run_id"`
	Status string       `json:"status"`
	Steps  []StepResult `json:"steps"`
}

// RunWorkflow executes steps strictly in array order. depends_on is carried
// as metadata only. With the continue policy a failed step does not stop the
// run and the run reports completed; with abort the remaining steps are
// skipped and the run reports failed.
func (o *Orchestrator) RunWorkflow(ctx context.Context, userID string, req WorkflowRequest) (*WorkflowResult, error) {
	steps, policy := req.Steps, req.OnStepFailure
	if len(steps) == 0 && req.WorkflowID != "" {
		wf, err := o.loadWorkflow(ctx, userID, req.WorkflowID)
		if err != nil {
			return nil, err
		}
		steps = wf.Steps
		if policy == "" {
			policy = wf.OnStepFailure
		}
	}
	if len(steps) == 0 {
		return nil, invalid("workflow has no steps")
	}
	policy, err := normalizePolicy(policy)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	tag := req.WorkflowID
	if tag == "" {
		tag = runID
	}

	log := logger.WithTrace(ctx, o.logger).With(
		zap.String("workflow_run_id", runID),
		zap.String("workflow_id", req.WorkflowID),
	)
	log.Info("Workflow started", zap.Int("steps", len(steps)), zap.String("policy", string(policy)))

	result := &WorkflowResult{RunID: runID, Status: WorkflowCompleted, Steps: make([]StepResult, 0, len(steps))}
	outputs := make([]map[string]any, len(steps))
	aborted := false

	for i, step := range steps {
		sr := StepResult{Index: i, AgentName: step.AgentName, TaskType: step.TaskType}
		if aborted {
			sr.Status = StepSkipped
			result.Steps = append(result.Steps, sr)
			metrics.IncrementWorkflowStep(StepSkipped)
			continue
		}

		res, err := o.ExecuteTask(ctx, userID, TaskRequest{
			AgentName:  step.AgentName,
			TaskType:   step.TaskType,
			InputData:  stepInput(req.Context, step.InputMapping, outputs),
			Context:    req.Context,
			WorkflowID: tag,
		})
		if res != nil {
			sr.TaskID = res.TaskID
			sr.Output = res.Output
		}
		if err != nil {
			sr.Status = StepFailed
			if res != nil && res.Status == string(model.TaskStatusCancelled) {
				sr.Status = res.Status
			}
			sr.Error = err.Error()
			log.Warn("Workflow step failed", zap.Int("step", i), zap.Error(err))
			if policy == model.StepFailureAbort {
				aborted = true
				result.Status = WorkflowFailed
			}
		} else {
			sr.Status = StepCompleted
			outputs[i] = res.Output
		}

		metrics.IncrementWorkflowStep(sr.Status)
		result.Steps = append(result.Steps, sr)
	}

	log.Info("Workflow finished", zap.String("status", result.Status))
	return result, nil
}

// stepInput shallow-merges the workflow context with the mapped fields.
// References to unknown fields, failed steps or steps that have not run yet
// map to nil.
func stepInput(wfCtx map[string]any, mapping map[string]model.InputSource, outputs []map[string]any) map[string]any {
	input := make(map[string]any, len(wfCtx)+len(mapping))
	for k, v := range wfCtx {
		input[k] = v
	}
	for target, src := range mapping {
		input[target] = resolveSource(src, wfCtx, outputs)
	}
	return input
}

func resolveSource(src model.InputSource, wfCtx map[string]any, outputs []map[string]any) any {
	if !src.Valid() {
		return nil
	}
	switch src.Kind {
	case model.SourceContext:
		return wfCtx[src.Field]
	case model.SourceStep:
		if src.Index >= len(outputs) || outputs[src.Index] == nil {
			return nil
		}
		return outputs[src.Index][src.Field]
	}
	return nil
}

func normalizePolicy(p model.StepFailurePolicy) (model.StepFailurePolicy, error) {
	switch p {
	case "":
		return model.StepFailureContinue, nil
	case model.StepFailureContinue, model.StepFailureAbort:
		return p, nil
	default:
		return "", invalid("unknown on_step_failure %q", p)
	}
}

// SaveWorkflow stores a workflow definition for the caller.
func (o *Orchestrator) SaveWorkflow(ctx context.Context, userID string, wf model.Workflow) (*model.Workflow, error) {
	wf.Name = strings.TrimSpace(wf.Name)
	if wf.Name == "" {
		return nil, invalid("name is required")
	}
	if len(wf.Steps) == 0 {
		return nil, invalid("workflow has no steps")
	}
	for i, step := range wf.Steps {
		if strings.TrimSpace(step.AgentName) == "" || strings.TrimSpace(step.TaskType) == "" {
			return nil, invalid("step %d needs agent_name and task_type", i)
		}
		for key, src := range step.InputMapping {
			if !src.Valid() {
				return nil, invalid("step %d input %q has an invalid source", i, key)
			}
		}
	}
	policy, err := normalizePolicy(wf.OnStepFailure)
	if err != nil {
		return nil, err
	}

	wf.ID = uuid.NewString()
	wf.UserID = userID
	wf.OnStepFailure = policy
	wf.IsActive = true
	wf.CreatedAt = o.now()
	if err := o.workflows.CreateWorkflow(ctx, &wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return &wf, nil
}

func (o *Orchestrator) ListWorkflows(ctx context.Context, userID string) ([]model.Workflow, error) {
	wfs, err := o.workflows.ListWorkflows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return wfs, nil
}

func (o *Orchestrator) loadWorkflow(ctx context.Context, userID, id string) (*model.Workflow, error) {
	wf, err := o.workflows.GetWorkflow(ctx, userID, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}
