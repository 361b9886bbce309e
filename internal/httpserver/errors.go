package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sita/internal/habit"
	"sita/internal/orchestrator"
	"sita/internal/service/account"
	"sita/pkg/logger"
	"sita/pkg/outbox"
)

func statusFor(err error) int {
	var execErr *orchestrator.ExecutionError
	switch {
	case errors.Is(err, orchestrator.ErrAgentNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrWorkflowNotFound),
		errors.Is(err, habit.ErrHabitNotFound),
		errors.Is(err, outbox.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, habit.ErrInvalidInput),
		errors.Is(err, account.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrTaskCancelled),
		errors.Is(err, orchestrator.ErrRetryLimit),
		errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict
	case errors.As(err, &execErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to status codes. Internal errors are logged
// and hidden from the caller.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
