package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sita/internal/model"
)

type WorkflowRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewWorkflowRepository(db *pgxpool.Pool, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `id, user_id, name, description, steps, on_step_failure, is_active, created_at`

func scanWorkflow(row pgx.Row) (*model.Workflow, error) {
	var wf model.Workflow
	var policy string
	err := row.Scan(
		&wf.ID,
		&wf.UserID,
		&wf.Name,
		&wf.Description,
		&wf.Steps,
		&policy,
		&wf.IsActive,
		&wf.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.OnStepFailure = model.StepFailurePolicy(policy)
	return &wf, nil
}

func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	query := `
        INSERT INTO workflows (id, user_id, name, description, steps, on_step_failure, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		wf.ID,
		wf.UserID,
		wf.Name,
		wf.Description,
		wf.Steps,
		string(wf.OnStepFailure),
		wf.IsActive,
		wf.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert workflow", zap.String("user_id", wf.UserID), zap.Error(err))
		return err
	}
	r.logger.Info("Workflow saved", zap.String("workflow_id", wf.ID), zap.Int("steps", len(wf.Steps)))
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, userID, id string) (*model.Workflow, error) {
	wf, err := scanWorkflow(r.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1 AND user_id = $2 AND is_active`,
		id, userID,
	))
	if isNoRows(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("workflow_id", id), zap.Error(err))
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, userID string) ([]model.Workflow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE user_id = $1 AND is_active ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		r.logger.Error("Failed to query workflows", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	workflows := []model.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}
