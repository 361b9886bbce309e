package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sita/internal/model"
)

type AgentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAgentRepository(db *pgxpool.Pool, logger *zap.Logger) *AgentRepository {
	return &AgentRepository{db: db, logger: logger}
}

const agentColumns = `id, name, display_name, description, module, capabilities,
        is_active, model, max_tokens, temperature, created_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.DisplayName,
		&a.Description,
		&a.Module,
		&a.Capabilities,
		&a.IsActive,
		&a.Model,
		&a.MaxTokens,
		&a.Temperature,
		&a.CreatedAt,
	)
	return a, err
}

func (r *AgentRepository) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	a, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get agent", zap.String("agent_id", id), zap.Error(err))
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepository) FindActiveAgents(ctx context.Context, name string) ([]model.Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1 AND is_active`, name)
}

func (r *AgentRepository) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE is_active ORDER BY module, name`)
}

func (r *AgentRepository) list(ctx context.Context, query string, args ...any) ([]model.Agent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query agents", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	agents := []model.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpsertAgent inserts an agent or updates the one with the same name.
func (r *AgentRepository) UpsertAgent(ctx context.Context, a *model.Agent) error {
	query := `
        INSERT INTO agents (name, display_name, description, module, capabilities, is_active, model, max_tokens, temperature)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (name) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            description  = EXCLUDED.description,
            module       = EXCLUDED.module,
            capabilities = EXCLUDED.capabilities,
            is_active    = EXCLUDED.is_active,
            model        = EXCLUDED.model,
            max_tokens   = EXCLUDED.max_tokens,
            temperature  = EXCLUDED.temperature
        RETURNING id, created_at
    `
	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		a.Name, a.DisplayName, a.Description, a.Module, caps,
		a.IsActive, a.Model, a.MaxTokens, a.Temperature,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert agent", zap.String("name", a.Name), zap.Error(err))
		return err
	}
	r.logger.Info("Agent upserted", zap.String("agent_id", a.ID), zap.String("name", a.Name))
	return nil
}
