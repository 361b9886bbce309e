// Package mqhandler holds the worker's message handlers.
package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "sita/contracts/mq"
	"sita/internal/orchestrator"
	"sita/pkg/logger"
	"sita/pkg/mq"
	"sita/pkg/trace"
	"sita/pkg/util"
)

const (
	handlerName = "agent_task"

	// maxRedeliveries bounds how often a retryable failure is requeued before
	// the message is parked in the DLQ.
	maxRedeliveries = 5
)

type TaskRunner interface {
	RunPending(ctx context.Context, taskID string) (*orchestrator.TaskResult, error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// TaskQueuedHandler executes tasks announced by agent_task.queued events.
type TaskQueuedHandler struct {
	runner       TaskRunner
	deduper      Deduper
	retryCounter RetryCounter
	dlq          DeadLetterPublisher
	logger       *zap.Logger
}

func NewTaskQueuedHandler(runner TaskRunner, deduper Deduper, retryCounter RetryCounter, dlq DeadLetterPublisher, logger *zap.Logger) *TaskQueuedHandler {
	return &TaskQueuedHandler{
		runner:       runner,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		logger:       logger,
	}
}

// Handle returns an error only when the message should be requeued.
func (h *TaskQueuedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer h.recoverPanic()

	var payload mqcontracts.TaskQueuedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.TaskID == "" {
		if err == nil {
			err = errors.New("missing task_id")
		}
		h.logger.Error("Invalid TaskQueuedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.deadLetter(ctx, raw, fmt.Sprintf("bad_payload: %v", err))
		return nil
	}

	if payload.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("task_id", payload.TaskID),
		zap.String("user_id", payload.UserID),
	)

	if !h.deduper.AcquireOnce(ctx, handlerName, payload.TaskID) {
		log.Info("Duplicated event, skip")
		return nil
	}

	retryKey := util.FormatRetryKey(handlerName, payload.TaskID)
	res, err := h.runner.RunPending(ctx, payload.TaskID)
	if err == nil {
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Info("Queued task finished", zap.String("status", res.Status))
		return nil
	}

	var execErr *orchestrator.ExecutionError
	switch {
	case errors.As(err, &execErr), errors.Is(err, orchestrator.ErrAgentNotFound):
		// The task row already carries the failure.
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Warn("Queued task failed", zap.Error(err))
		return nil
	case errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrTaskCancelled):
		log.Info("Task no longer runnable, skip", zap.Error(err))
		return nil
	}

	return h.handleStoreError(ctx, log, raw, retryKey, payload.TaskID, err)
}

func (h *TaskQueuedHandler) handleStoreError(ctx context.Context, log *zap.Logger, raw json.RawMessage, retryKey, taskID string, err error) error {
	retryable, errType := util.IsRetryableError(err)
	retryCount, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Retry counter unavailable", zap.Error(cerr))
	}

	log.Error("Queued task error",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, maxRedeliveries, retryable) {
		h.deduper.Release(ctx, handlerName, taskID)
		return err // nack → requeue
	}

	_ = h.retryCounter.Reset(ctx, retryKey)
	h.deadLetter(ctx, raw, err.Error())
	return nil
}

func (h *TaskQueuedHandler) deadLetter(ctx context.Context, raw json.RawMessage, reason string) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(ctx, mq.RoutingKeyTaskQueued, raw, reason); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

func (h *TaskQueuedHandler) recoverPanic() {
	if r := recover(); r != nil {
		h.logger.Error("panic recovered in handler", zap.Any("panic", r))
	}
}
