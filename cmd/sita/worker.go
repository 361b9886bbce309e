package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sita/internal/config"
	"sita/internal/llm"
	"sita/internal/mqhandler"
	"sita/internal/orchestrator"
	"sita/pkg/logger"
	"sita/pkg/mq"
	"sita/pkg/redis"
	"sita/pkg/util"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute queued agent tasks from RabbitMQ",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return errors.New("worker requires store=postgres")
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()
	log.Info("Starting worker")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

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

	dlq, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		return fmt.Errorf("init dlq publisher: %w", err)
	}
	defer dlq.Close()

	handler := mqhandler.NewTaskQueuedHandler(
		orch,
		util.NewDeduper(rdb, cfg.Worker.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Worker.RetryTTL),
		dlq,
		log,
	)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Worker.Queue, mq.RoutingKeyTaskQueued, cfg.Worker.Prefetch, log)
	if err != nil {
		return fmt.Errorf("init consumer: %w", err)
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	log.Info("Worker running",
		zap.String("queue", cfg.Worker.Queue),
		zap.Int("prefetch", cfg.Worker.Prefetch),
		zap.Duration("task_timeout", cfg.TaskTimeout),
	)
	start := time.Now()
	err = consumer.StartConsuming(ctx)
	log.Info("Worker stopped", zap.Duration("uptime", time.Since(start)))
	return err
}
