package orchestrator_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sita/internal/llm"
	"sita/internal/model"
	"sita/internal/orchestrator"
)

func threeSteps(t *testing.T) []model.WorkflowStep {
	t.Helper()
	raw := `[
		{"agent_name": "writer", "task_type": "outline", "input_mapping": {"topic": "context.topic"}},
		{"agent_name": "coach", "task_type": "review", "depends_on": ["0"], "input_mapping": {"outline": "0.result"}},
		{"agent_name": "writer", "task_type": "draft", "depends_on": ["1"], "input_mapping": {
			"outline": {"source": "step", "index": 0, "field": "result"},
			"review": "1.result",
			"later": "5.result",
			"bogus": "nope"
		}}
	]`
	var steps []model.WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(raw), &steps))
	return steps
}

func failReviews(p llm.Prompt) bool {
	return strings.Contains(p.User, "Task type: review")
}

func TestRunWorkflow_ContinuesPastFailedStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.FailIf = failReviews
	f.gen.Reply = func(p llm.Prompt) string { return "outline text" }

	res, err := f.orch.RunWorkflow(ctx, "u1", orchestrator.WorkflowRequest{
		Steps:   threeSteps(t),
		Context: map[string]any{"topic": "sleep", "audience": "teens"},
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.WorkflowCompleted, res.Status)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, orchestrator.StepCompleted, res.Steps[0].Status)
	assert.Equal(t, orchestrator.StepFailed, res.Steps[1].Status)
	assert.NotEmpty(t, res.Steps[1].Error)
	assert.NotEmpty(t, res.Steps[1].TaskID)
	assert.Equal(t, orchestrator.StepCompleted, res.Steps[2].Status)

	first := f.task(t, res.Steps[0].TaskID)
	assert.Equal(t, "sleep", first.InputData["topic"])
	assert.Equal(t, "teens", first.InputData["audience"])
	require.NotNil(t, first.WorkflowID)
	assert.Equal(t, res.RunID, *first.WorkflowID)

	last := f.task(t, res.Steps[2].TaskID)
	assert.Equal(t, "outline text", last.InputData["outline"])
	assert.Contains(t, last.InputData, "review")
	assert.Nil(t, last.InputData["review"])
	assert.Contains(t, last.InputData, "later")
	assert.Nil(t, last.InputData["later"])
	assert.Nil(t, last.InputData["bogus"])
	assert.Equal(t, res.RunID, *last.WorkflowID)
}

func TestRunWorkflow_AbortSkipsRemainingSteps(t *testing.T) {
	f := newFixture(t)
	f.gen.FailIf = failReviews

	res, err := f.orch.RunWorkflow(context.Background(), "u1", orchestrator.WorkflowRequest{
		Steps:         threeSteps(t),
		OnStepFailure: model.StepFailureAbort,
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.WorkflowFailed, res.Status)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, orchestrator.StepFailed, res.Steps[1].Status)
	assert.Equal(t, orchestrator.StepSkipped, res.Steps[2].Status)
	assert.Empty(t, res.Steps[2].TaskID)
	assert.Equal(t, 2, f.store.TaskCount())
}

func TestRunWorkflow_UnknownAgentIsAStepFailure(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.RunWorkflow(context.Background(), "u1", orchestrator.WorkflowRequest{
		Steps: []model.WorkflowStep{
			{AgentName: "ghost", TaskType: "haunt"},
			{AgentName: "coach", TaskType: "plan"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.WorkflowCompleted, res.Status)
	assert.Equal(t, orchestrator.StepFailed, res.Steps[0].Status)
	assert.Empty(t, res.Steps[0].TaskID)
	assert.Equal(t, orchestrator.StepCompleted, res.Steps[1].Status)
}

func TestRunWorkflow_SavedDefinition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.FailIf = failReviews

	wf, err := f.orch.SaveWorkflow(ctx, "u1", model.Workflow{
		Name:          "weekly post",
		Steps:         threeSteps(t),
		OnStepFailure: model.StepFailureAbort,
	})
	require.NoError(t, err)

	saved, err := f.orch.ListWorkflows(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, wf.ID, saved[0].ID)

	res, err := f.orch.RunWorkflow(ctx, "u1", orchestrator.WorkflowRequest{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.WorkflowFailed, res.Status)
	require.Len(t, res.Steps, 3)

	task := f.task(t, res.Steps[0].TaskID)
	assert.Equal(t, wf.ID, *task.WorkflowID)

	_, err = f.orch.RunWorkflow(ctx, "u2", orchestrator.WorkflowRequest{WorkflowID: wf.ID})
	assert.ErrorIs(t, err, orchestrator.ErrWorkflowNotFound)
}

func TestRunWorkflow_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.RunWorkflow(ctx, "u1", orchestrator.WorkflowRequest{})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInput)

	_, err = f.orch.RunWorkflow(ctx, "u1", orchestrator.WorkflowRequest{
		Steps:         []model.WorkflowStep{{AgentName: "coach", TaskType: "plan"}},
		OnStepFailure: "retry",
	})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInput)

	_, err = f.orch.SaveWorkflow(ctx, "u1", model.Workflow{Name: "empty"})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInput)

	_, err = f.orch.SaveWorkflow(ctx, "u1", model.Workflow{Name: "x", Steps: []model.WorkflowStep{{TaskType: "plan"}}})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInput)
	assert.Zero(t, f.store.TaskCount())
}

func TestSaveWorkflow_RejectsInvalidInputSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var broken model.InputSource
	require.NoError(t, json.Unmarshal([]byte(`"outline"`), &broken))

	for _, src := range []model.InputSource{broken, {}, model.StepField(-1, "outline"), model.ContextField("")} {
		_, err := f.orch.SaveWorkflow(ctx, "u1", model.Workflow{
			Name: "bad mapping",
			Steps: []model.WorkflowStep{
				{AgentName: "writer", TaskType: "draft"},
				{AgentName: "writer", TaskType: "summarize", InputMapping: map[string]model.InputSource{"text": src}},
			},
		})
		assert.ErrorIs(t, err, orchestrator.ErrInvalidInput, "%v", src)
	}
	saved, err := f.orch.ListWorkflows(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, saved)

	_, err = f.orch.SaveWorkflow(ctx, "u1", model.Workflow{
		Name: "good mapping",
		Steps: []model.WorkflowStep{
			{AgentName: "writer", TaskType: "draft"},
			{AgentName: "writer", TaskType: "summarize", InputMapping: map[string]model.InputSource{"text": model.StepField(0, "result")}},
		},
	})
	require.NoError(t, err)
}
