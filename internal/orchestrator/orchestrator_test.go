package orchestrator_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sita/internal/llm"
	"sita/internal/model"
	"sita/internal/orchestrator"
	"sita/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	gen   *llm.MockGenerator
	orch  *orchestrator.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.PutAgent(model.Agent{
		ID:           "agent-writer",
		Name:         "writer",
		DisplayName:  "Writer",
		Description:  "Drafts short texts.",
		Module:       "content",
		Capabilities: []string{"summarize", "draft"},
		IsActive:     true,
		Model:        "test-model",
	})
	store.PutAgent(model.Agent{ID: "agent-coach", Name: "coach", Module: "wellness", IsActive: true})
	store.PutAgent(model.Agent{ID: "agent-old", Name: "legacy", Module: "archive", IsActive: false})

	var tick atomic.Int64
	clock := func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick.Add(1)) * time.Second)
	}

	gen := llm.NewMockGenerator()
	orch := orchestrator.New(store, store, store, store, gen, zap.NewNop()).WithClock(clock)
	return &fixture{store: store, gen: gen, orch: orch}
}

func retries(n int) *int { return &n }

// ctxStore fails writes on a done context, the way a database driver does.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) Transition(ctx context.Context, id string, from []model.TaskStatus, tr model.TaskTransition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.Transition(ctx, id, from, tr)
}

func (s ctxStore) GetTask(ctx context.Context, id string) (*model.AgentTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetTask(ctx, id)
}

func (s ctxStore) RecordActivity(ctx context.Context, entry *model.ActivityLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.RecordActivity(ctx, entry)
}

// abandoningGenerator cancels the caller's context mid-generation.
type abandoningGenerator struct {
	cancel context.CancelFunc
}

func (g abandoningGenerator) Generate(ctx context.Context, _ llm.Prompt) (*llm.Generation, error) {
	g.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func activityActions(store *memory.Store) []string {
	var actions []string
	for _, entry := range store.Activity() {
		actions = append(actions, entry.Action)
	}
	return actions
}

func (f *fixture) task(t *testing.T, id string) *model.AgentTask {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestExecuteTask_Completed(t *testing.T) {
	f := newFixture(t)
	f.gen.Reply = func(p llm.Prompt) string { return "a summary" }

	res, err := f.orch.ExecuteTask(context.Background(), "u1", orchestrator.TaskRequest{
		AgentName: "writer",
		TaskType:  "summarize",
		InputData: map[string]any{"text": "long text"},
		Context:   map[string]any{"tone": "calm"},
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "a summary", res.Output["result"])

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Equal(t, "agent-writer", *task.AgentID)
	assert.Equal(t, model.DefaultTaskPriority, task.Priority)
	assert.Equal(t, model.DefaultTaskMaxRetries, task.MaxRetries)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.After(*task.StartedAt))

	prompts := f.gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].System, "Writer")
	assert.Contains(t, prompts[0].System, "draft, summarize")
	assert.Contains(t, prompts[0].User, "Task type: summarize")
	assert.Contains(t, prompts[0].User, "long text")
	assert.Contains(t, prompts[0].User, "calm")
	assert.Equal(t, "test-model", prompts[0].Model)

	activity := f.store.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, "agent_task.completed", activity[0].Action)
	assert.Equal(t, res.TaskID, activity[0].EntityID)
}

func TestExecuteTask_FailureIsRecordedAndReturned(t *testing.T) {
	f := newFixture(t)
	f.gen.Err = fmt.Errorf("upstream timeout")

	res, err := f.orch.ExecuteTask(context.Background(), "u1", orchestrator.TaskRequest{
		AgentID:  "agent-writer",
		TaskType: "summarize",
	})

	var execErr *orchestrator.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.NotNil(t, res)
	assert.Equal(t, res.TaskID, execErr.TaskID)

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "upstream timeout")
	assert.NotNil(t, task.CompletedAt)

	activity := f.store.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, "agent_task.failed", activity[0].Action)
}

func TestExecuteTask_TerminalStateForEveryOutcome(t *testing.T) {
	for _, fail := range []bool{false, true} {
		f := newFixture(t)
		if fail {
			f.gen.Err = fmt.Errorf("boom")
		}
		res, _ := f.orch.ExecuteTask(context.Background(), "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
		require.NotNil(t, res)

		task := f.task(t, res.TaskID)
		assert.Contains(t, []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusFailed}, task.Status)
		assert.NotNil(t, task.CompletedAt)
	}
}

func TestExecuteTask_AgentResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []orchestrator.TaskRequest{
		{AgentName: "nobody", TaskType: "x"},
		{AgentName: "legacy", TaskType: "x"},
		{AgentID: "agent-old", TaskType: "x"},
		{AgentID: "missing", TaskType: "x"},
	} {
		_, err := f.orch.ExecuteTask(ctx, "u1", req)
		assert.ErrorIs(t, err, orchestrator.ErrAgentNotFound, "%+v", req)
	}

	f.store.PutAgent(model.Agent{ID: "agent-writer-2", Name: "writer", IsActive: true})
	_, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "writer", TaskType: "x"})
	assert.ErrorIs(t, err, orchestrator.ErrAgentNotFound)

	assert.Zero(t, f.store.TaskCount())
	assert.Empty(t, f.gen.Prompts())
}

func TestExecuteTask_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []orchestrator.TaskRequest{
		{AgentName: "writer"},
		{TaskType: "summarize"},
		{AgentName: "writer", TaskType: "summarize", Priority: 11},
		{AgentName: "writer", TaskType: "summarize", MaxRetries: retries(-1)},
	} {
		_, err := f.orch.ExecuteTask(ctx, "u1", req)
		assert.ErrorIs(t, err, orchestrator.ErrInvalidInput, "%+v", req)
	}
	assert.Zero(t, f.store.TaskCount())
}

func TestQueueTask_SoftAgentLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var queued []string
	f.store.OnEnqueue(func(id string) { queued = append(queued, id) })

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "not-yet", TaskType: "plan", Priority: 9})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusQueued, res.Status)
	assert.Equal(t, []string{res.TaskID}, queued)

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Nil(t, task.AgentID)
	assert.Equal(t, "not-yet", task.AgentName)
	assert.Equal(t, 9, task.Priority)
	assert.Nil(t, task.StartedAt)

	res, err = f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)
	assert.Equal(t, "agent-coach", *f.task(t, res.TaskID).AgentID)
	assert.Empty(t, f.gen.Prompts())
}

func TestRunPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)

	out, err := f.orch.RunPending(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Status)

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.NotNil(t, task.StartedAt)

	_, err = f.orch.RunPending(ctx, res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidTransition)

	_, err = f.orch.RunPending(ctx, "missing")
	assert.ErrorIs(t, err, orchestrator.ErrTaskNotFound)
}

func TestRunPending_ResolvesAgentLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "planner", TaskType: "plan"})
	require.NoError(t, err)

	f.store.PutAgent(model.Agent{ID: "agent-planner", Name: "planner", IsActive: true})
	_, err = f.orch.RunPending(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "agent-planner", *f.task(t, res.TaskID).AgentID)
}

func TestRunPending_UnknownAgentFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "ghost", TaskType: "plan"})
	require.NoError(t, err)

	_, err = f.orch.RunPending(ctx, res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrAgentNotFound)

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.NotNil(t, task.CompletedAt)
}

func TestRunPending_UnknownAgentRacingCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "ghost", TaskType: "plan"})
	require.NoError(t, err)

	agents := &cancellingAgents{Store: f.store, cancel: func() {
		_, err := f.orch.CancelTask(ctx, "u1", res.TaskID)
		require.NoError(t, err)
	}}
	orch := orchestrator.New(f.store, agents, f.store, f.store, f.gen, zap.NewNop())

	run, err := orch.RunPending(ctx, res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrTaskCancelled)
	require.NotNil(t, run)
	assert.Equal(t, "cancelled", run.Status)

	assert.Equal(t, model.TaskStatusCancelled, f.task(t, res.TaskID).Status)
	assert.NotContains(t, activityActions(f.store), "agent_task.failed")
}

// cancellingAgents cancels the task while its agent is being resolved.
type cancellingAgents struct {
	*memory.Store
	cancel func()
}

func (a *cancellingAgents) FindActiveAgents(ctx context.Context, name string) ([]model.Agent, error) {
	a.cancel()
	return a.Store.FindActiveAgents(ctx, name)
}

func TestExecuteTask_CallerGoneStillRecordsFailure(t *testing.T) {
	store := ctxStore{Store: memory.New()}
	store.PutAgent(model.Agent{ID: "agent-coach", Name: "coach", Module: "wellness", IsActive: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := orchestrator.New(store, store, store, store, abandoningGenerator{cancel: cancel}, zap.NewNop())

	res, err := orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	var execErr *orchestrator.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, "failed", res.Status)

	task, err := store.Store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, []string{"agent_task.failed"}, activityActions(store.Store))
}

func TestRunPending_WorkerShutdownStillRecordsFailure(t *testing.T) {
	store := ctxStore{Store: memory.New()}
	store.PutAgent(model.Agent{ID: "agent-coach", Name: "coach", Module: "wellness", IsActive: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := orchestrator.New(store, store, store, store, abandoningGenerator{cancel: cancel}, zap.NewNop())

	queued, err := orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)

	_, err = orch.RunPending(ctx, queued.TaskID)
	require.Error(t, err)

	task, err := store.Store.GetTask(context.Background(), queued.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status, "task must not stay processing")
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)

	_, err = f.orch.CancelTask(ctx, "u2", res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrTaskNotFound)

	task, err := f.orch.CancelTask(ctx, "u1", res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, task.Status)
	require.NotNil(t, f.task(t, res.TaskID).CompletedAt)

	_, err = f.orch.CancelTask(ctx, "u1", res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidTransition)

	// A cancelled task is never picked up by a worker.
	_, err = f.orch.RunPending(ctx, res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidTransition)
}

func TestCancelTask_CompletedTaskIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)

	_, err = f.orch.CancelTask(ctx, "u1", res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidTransition)
	assert.Equal(t, model.TaskStatusCompleted, f.task(t, res.TaskID).Status)
}

func TestCancelTask_WhileProcessingDiscardsLateResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gen.Reply = func(p llm.Prompt) string {
		tasks, err := f.store.ListTasks(ctx, "u1", model.TaskFilter{Status: model.TaskStatusProcessing})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		_, err = f.orch.CancelTask(ctx, "u1", tasks[0].ID)
		require.NoError(t, err)
		return "too late"
	}

	res, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	assert.ErrorIs(t, err, orchestrator.ErrTaskCancelled)
	require.NotNil(t, res)
	assert.Equal(t, "cancelled", res.Status)

	task := f.task(t, res.TaskID)
	assert.Equal(t, model.TaskStatusCancelled, task.Status)
	assert.Nil(t, task.OutputData)
	assert.NotNil(t, task.CompletedAt)
}

func TestRetryTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Err = fmt.Errorf("flaky")

	res, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{
		AgentName:  "coach",
		TaskType:   "plan",
		InputData:  map[string]any{"goal": "sleep"},
		Priority:   7,
		MaxRetries: retries(2),
	})
	require.Error(t, err)
	original := f.task(t, res.TaskID)

	_, err = f.orch.RetryTask(ctx, "u2", original.ID)
	assert.ErrorIs(t, err, orchestrator.ErrTaskNotFound)

	retry, err := f.orch.RetryTask(ctx, "u1", original.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusQueued, retry.Status)
	assert.NotEqual(t, original.ID, retry.TaskID)

	next := f.task(t, retry.TaskID)
	assert.Equal(t, model.TaskStatusPending, next.Status)
	assert.Equal(t, original.ID, *next.ParentTaskID)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, 7, next.Priority)
	assert.Equal(t, "sleep", next.InputData["goal"])
	assert.Equal(t, *original.AgentID, *next.AgentID)

	assert.Equal(t, original, f.task(t, original.ID))

	// Pending tasks cannot be retried.
	_, err = f.orch.RetryTask(ctx, "u1", next.ID)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidTransition)

	_, err = f.orch.RunPending(ctx, next.ID)
	require.Error(t, err)
	second, err := f.orch.RetryTask(ctx, "u1", next.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.task(t, second.TaskID).RetryCount)

	_, err = f.orch.RunPending(ctx, second.TaskID)
	require.Error(t, err)
	_, err = f.orch.RetryTask(ctx, "u1", second.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrRetryLimit)
}

func TestRetryTask_ExplicitZeroMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Err = fmt.Errorf("flaky")

	res, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{
		AgentName:  "coach",
		TaskType:   "plan",
		MaxRetries: retries(0),
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.task(t, res.TaskID).MaxRetries)

	_, err = f.orch.RetryTask(ctx, "u1", res.TaskID)
	assert.ErrorIs(t, err, orchestrator.ErrRetryLimit)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		_, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{TaskType: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}
	_, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)
	_, err = f.orch.QueueTask(ctx, "u2", orchestrator.TaskRequest{TaskType: "other"})
	require.NoError(t, err)

	tasks, err := f.orch.ListTasks(ctx, "u1", model.TaskFilter{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, tasks, 50)
	assert.Equal(t, "plan", tasks[0].TaskType)

	tasks, err = f.orch.ListTasks(ctx, "u1", model.TaskFilter{Status: model.TaskStatusCompleted})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tasks, err = f.orch.ListTasks(ctx, "u2", model.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = f.orch.ListTasks(ctx, "u1", model.TaskFilter{Status: "queued"})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInput)
}

func TestListAgents_ActiveOrderedByModule(t *testing.T) {
	f := newFixture(t)

	agents, err := f.orch.ListAgents(context.Background())
	require.NoError(t, err)

	var names []string
	for _, a := range agents {
		names = append(names, a.Module+"/"+a.Name)
	}
	assert.Equal(t, "content/writer,wellness/coach", strings.Join(names, ","))
}

func TestDeletePendingTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.orch.QueueTask(ctx, "u1", orchestrator.TaskRequest{TaskType: "plan"})
	require.NoError(t, err)
	done, err := f.orch.ExecuteTask(ctx, "u1", orchestrator.TaskRequest{AgentName: "coach", TaskType: "plan"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.DeletePendingTask(ctx, "u2", pending.TaskID), orchestrator.ErrTaskNotFound)
	assert.ErrorIs(t, f.orch.DeletePendingTask(ctx, "u1", done.TaskID), orchestrator.ErrInvalidTransition)
	assert.ErrorIs(t, f.orch.DeletePendingTask(ctx, "u1", "missing"), orchestrator.ErrTaskNotFound)

	require.NoError(t, f.orch.DeletePendingTask(ctx, "u1", pending.TaskID))
	_, err = f.store.GetTask(ctx, pending.TaskID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
