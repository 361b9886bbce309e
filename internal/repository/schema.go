package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS habits (
    id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    frequency   TEXT NOT NULL DEFAULT 'daily',
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS habit_completions (
    habit_id     TEXT NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    completed_on DATE NOT NULL,
    count        INTEGER NOT NULL CHECK (count > 0),
    PRIMARY KEY (habit_id, completed_on)
)`,
	`CREATE INDEX IF NOT EXISTS idx_habit_completions_user ON habit_completions (user_id, completed_on DESC)`,
	`CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    module       TEXT NOT NULL DEFAULT '',
    capabilities TEXT[] NOT NULL DEFAULT '{}',
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    model        TEXT NOT NULL DEFAULT '',
    max_tokens   INTEGER NOT NULL DEFAULT 1024,
    temperature  DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS agent_tasks (
    id             TEXT PRIMARY KEY,
    agent_id       TEXT REFERENCES agents(id),
    agent_name     TEXT NOT NULL DEFAULT '',
    user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    task_type      TEXT NOT NULL,
    input_data     JSONB NOT NULL DEFAULT '{}',
    context        JSONB,
    priority       INTEGER NOT NULL DEFAULT 5 CHECK (priority BETWEEN 1 AND 10),
    workflow_id    TEXT,
    parent_task_id TEXT REFERENCES agent_tasks(id) ON DELETE SET NULL,
    status         TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
    output_data    JSONB,
    error_message  TEXT,
    retry_count    INTEGER NOT NULL DEFAULT 0,
    max_retries    INTEGER NOT NULL DEFAULT 3,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at     TIMESTAMPTZ,
    completed_at   TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_tasks_user ON agent_tasks (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS workflows (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    steps           JSONB NOT NULL,
    on_step_failure TEXT NOT NULL DEFAULT 'continue',
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT NOT NULL,
    action      TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
    id             BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    routing_key    TEXT NOT NULL,
    payload        JSONB NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    retry_count    INTEGER NOT NULL DEFAULT 0,
    next_retry_at  TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (status, next_retry_at)`,
}

// EnsureSchema creates every table the service uses if it does not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			logger.Error("Schema statement failed", zap.Int("statement", i), zap.Error(err))
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	logger.Info("Schema ensured", zap.Int("statements", len(schema)))
	return nil
}
