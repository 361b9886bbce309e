package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sita/internal/habit"
	"sita/internal/httpserver"
	"sita/internal/llm"
	"sita/internal/orchestrator"
	"sita/internal/service/account"
	"sita/pkg/logger"
	"sita/pkg/mq"
	"sita/pkg/outbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

With store=memory queued tasks run in-process. With store=postgres queued
tasks are published through the outbox and executed by "sita worker".`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	generator, err := llm.New(ctx, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}

	orch := orchestrator.New(st.tasks, st.agents, st.workflows, st.activity, generator, log).
		WithTimeout(cfg.TaskTimeout)
	engine := habit.NewEngine(cfg.Location(), time.Now)
	tracker := habit.NewTracker(st.habits, st.completions, engine, cfg.SnapshotMaxAge, log)
	accounts := account.NewService(st.users, cfg.JWT.Secret, cfg.JWT.TTL, log)

	checks := map[string]httpserver.ReadinessCheck{"database": st.ping}
	routerCfg := httpserver.Config{
		JWTSecret: cfg.JWT.Secret,
		Tasks:     httpserver.NewTaskHandler(orch, log),
		Habits:    httpserver.NewHabitHandler(tracker, log),
		Auth:      httpserver.NewAuthHandler(accounts, log),
		Checks:    checks,
		Logger:    log,
	}

	if st.mem != nil {
		st.mem.OnEnqueue(func(taskID string) {
			go runInline(ctx, orch, taskID, log)
		})
	} else {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return fmt.Errorf("init mq publisher: %w", err)
		}
		defer publisher.Close()
		checks["mq"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher disconnected")
			}
			return nil
		}

		outboxRepo := outbox.NewRepository(st.pool)
		dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries)
		go dispatcher.Start(ctx)

		routerCfg.Admin = httpserver.NewAdminHandler(outbox.NewReplayService(outboxRepo, publisher, log), log)
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpserver.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting sita API", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runInline executes a queued task in-process when no broker is configured.
func runInline(ctx context.Context, orch *orchestrator.Orchestrator, taskID string, log *zap.Logger) {
	res, err := orch.RunPending(ctx, taskID)
	if err != nil {
		log.Warn("Inline task run failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	log.Info("Inline task finished", zap.String("task_id", res.TaskID), zap.String("status", res.Status))
}
