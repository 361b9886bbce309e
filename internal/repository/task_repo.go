package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "sita/contracts/mq"
	"sita/internal/model"
	"sita/pkg/mq"
	"sita/pkg/outbox"
	"sita/pkg/trace"
)

const aggregateAgentTask = "agent_task"

// TaskRepository stores agent tasks. Queueing and terminal transitions write
// their outbox event in the same transaction as the row change.
type TaskRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, outboxRepo: outbox.NewRepository(db), logger: logger}
}

const taskColumns = `id, agent_id, agent_name, user_id, task_type, input_data, context, priority,
        workflow_id, parent_task_id, status, output_data, error_message, retry_count,
        max_retries, created_at, started_at, completed_at`

func scanTask(row pgx.Row) (*model.AgentTask, error) {
	var t model.AgentTask
	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.AgentName,
		&t.UserID,
		&t.TaskType,
		&t.InputData,
		&t.Context,
		&t.Priority,
		&t.WorkflowID,
		&t.ParentTaskID,
		&t.Status,
		&t.OutputData,
		&t.ErrorMessage,
		&t.RetryCount,
		&t.MaxRetries,
		&t.CreatedAt,
		&t.StartedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTask(ctx context.Context, db execer, t *model.AgentTask) error {
	_, err := db.Exec(ctx, `
        INSERT INTO agent_tasks (id, agent_id, agent_name, user_id, task_type, input_data, context,
            priority, workflow_id, parent_task_id, status, retry_count, max_retries, created_at, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `,
		t.ID,
		t.AgentID,
		t.AgentName,
		t.UserID,
		t.TaskType,
		jsonArg(t.InputData),
		jsonArg(t.Context),
		t.Priority,
		t.WorkflowID,
		t.ParentTaskID,
		string(t.Status),
		t.RetryCount,
		t.MaxRetries,
		t.CreatedAt,
		t.StartedAt,
	)
	return err
}

func (r *TaskRepository) CreateTask(ctx context.Context, t *model.AgentTask) error {
	r.logger.Debug("Inserting task",
		zap.String("task_id", t.ID),
		zap.String("user_id", t.UserID),
		zap.String("status", string(t.Status)),
	)
	if err := insertTask(ctx, r.db, t); err != nil {
		r.logger.Error("Failed to insert task", zap.String("task_id", t.ID), zap.Error(err))
		return err
	}
	return nil
}

// EnqueueTask inserts a pending task together with its agent_task.queued
// outbox event.
func (r *TaskRepository) EnqueueTask(ctx context.Context, t *model.AgentTask) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTask(ctx, tx, t); err != nil {
		r.logger.Error("Failed to insert queued task", zap.String("task_id", t.ID), zap.Error(err))
		return err
	}

	payload := mqcontracts.TaskQueuedPayload{
		TaskID:   t.ID,
		UserID:   t.UserID,
		TaskType: t.TaskType,
		Priority: t.Priority,
		QueuedAt: t.CreatedAt,
		TraceID:  trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, aggregateAgentTask, t.ID, mq.RoutingKeyTaskQueued, payload); err != nil {
		r.logger.Error("Failed to insert agent_task.queued to outbox", zap.String("task_id", t.ID), zap.Error(err))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.logger.Info("Task queued", zap.String("task_id", t.ID), zap.String("user_id", t.UserID))
	return nil
}

func (r *TaskRepository) GetTask(ctx context.Context, id string) (*model.AgentTask, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.String("task_id", id), zap.Error(err))
		return nil, err
	}
	return t, nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]model.AgentTask, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM agent_tasks
        WHERE user_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, userID, string(filter.Status), filter.Limit)
	if err != nil {
		r.logger.Error("Failed to query tasks", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	tasks := []model.AgentTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			r.logger.Error("Failed to scan task row", zap.String("user_id", userID), zap.Error(err))
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Transition updates the task only while its status is one of from.
// completed_at is written at most once.
func (r *TaskRepository) Transition(ctx context.Context, id string, from []model.TaskStatus, tr model.TaskTransition) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, taskType string
	err = tx.QueryRow(ctx, `
        UPDATE agent_tasks SET
            status        = $2,
            agent_id      = COALESCE($3, agent_id),
            output_data   = COALESCE($4, output_data),
            error_message = COALESCE($5, error_message),
            started_at    = COALESCE($6, started_at),
            completed_at  = COALESCE(completed_at, $7)
        WHERE id = $1 AND status = ANY($8)
        RETURNING user_id, task_type
    `,
		id,
		string(tr.To),
		tr.AgentID,
		jsonArg(tr.OutputData),
		tr.ErrorMessage,
		tr.StartedAt,
		tr.CompletedAt,
		statuses,
	).Scan(&userID, &taskType)
	if isNoRows(err) {
		if _, gerr := r.GetTask(ctx, id); gerr != nil {
			return false, gerr
		}
		r.logger.Info("Task transition skipped",
			zap.String("task_id", id),
			zap.String("to", string(tr.To)),
			zap.Strings("from", statuses),
		)
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to transition task", zap.String("task_id", id), zap.Error(err))
		return false, err
	}

	if tr.To.IsTerminal() {
		finishedAt := time.Now()
		if tr.CompletedAt != nil {
			finishedAt = *tr.CompletedAt
		}
		payload := mqcontracts.TaskFinishedPayload{
			TaskID:     id,
			UserID:     userID,
			TaskType:   taskType,
			Status:     string(tr.To),
			FinishedAt: finishedAt,
			TraceID:    trace.FromContext(ctx),
		}
		if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, aggregateAgentTask, id, mq.RoutingKeyTaskFinished, payload); err != nil {
			r.logger.Error("Failed to insert agent_task.finished to outbox", zap.String("task_id", id), zap.Error(err))
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.logger.Debug("Task transitioned", zap.String("task_id", id), zap.String("to", string(tr.To)))
	return true, nil
}

func (r *TaskRepository) DeletePendingTask(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.Exec(ctx, `
        DELETE FROM agent_tasks
        WHERE id = $1 AND user_id = $2 AND status = 'pending'
    `, id, userID)
	if err != nil {
		r.logger.Error("Failed to delete task", zap.String("task_id", id), zap.Error(err))
		return false, err
	}
	deleted := result.RowsAffected() > 0
	r.logger.Info("Pending task delete", zap.String("task_id", id), zap.Bool("deleted", deleted))
	return deleted, nil
}

// jsonArg maps a nil map to SQL NULL.
func jsonArg(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
