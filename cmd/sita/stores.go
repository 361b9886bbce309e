package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sita/internal/config"
	"sita/internal/habit"
	"sita/internal/orchestrator"
	"sita/internal/repository"
	"sita/internal/service/account"
	"sita/internal/store/memory"
	"sita/pkg/db"
)

type stores struct {
	users       account.UserStore
	habits      habit.HabitStore
	completions habit.CompletionStore
	tasks       orchestrator.TaskStore
	agents      orchestrator.AgentStore
	workflows   orchestrator.WorkflowStore
	activity    orchestrator.ActivityStore
	ping        func(ctx context.Context) error

	// pool is nil for the in-memory store.
	pool *pgxpool.Pool
	mem  *memory.Store
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		mem := memory.New()
		for _, a := range defaultAgents {
			a.ID = uuid.NewString()
			mem.PutAgent(a)
		}
		logger.Warn("Using in-memory store; data is lost on exit")
		return &stores{
			users:       mem,
			habits:      mem,
			completions: mem,
			tasks:       mem,
			agents:      mem,
			workflows:   mem,
			activity:    mem,
			ping:        mem.Ping,
			mem:         mem,
		}, nil
	}

	pool, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:       repository.NewUserRepository(pool, logger),
		habits:      repository.NewHabitRepository(pool, logger),
		completions: repository.NewCompletionRepository(pool, logger),
		tasks:       repository.NewTaskRepository(pool, logger),
		agents:      repository.NewAgentRepository(pool, logger),
		workflows:   repository.NewWorkflowRepository(pool, logger),
		activity:    repository.NewActivityRepository(pool, logger),
		ping:        pool.Ping,
		pool:        pool,
	}, nil
}
