package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sita/internal/model"
	"sita/internal/orchestrator"
)

type TaskHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewTaskHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{orch: orch, logger: logger}
}

// Execute handles POST /execute
func (h *TaskHandler) Execute(c *gin.Context) {
	var req orchestrator.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.orch.ExecuteTask(c.Request.Context(), currentUser(c), req)
	var execErr *orchestrator.ExecutionError
	if errors.As(err, &execErr) && res != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"task_id": res.TaskID,
			"status":  res.Status,
			"error":   execErr.Err.Error(),
		})
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Queue handles POST /queue
func (h *TaskHandler) Queue(c *gin.Context) {
	var req orchestrator.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.orch.QueueTask(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// ListAgents handles GET /agents
func (h *TaskHandler) ListAgents(c *gin.Context) {
	agents, err := h.orch.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// ListTasks handles GET /tasks?status=&limit=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	filter := model.TaskFilter{Status: model.TaskStatus(c.Query("status"))}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	tasks, err := h.orch.ListTasks(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask handles GET /tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.orch.GetTask(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Cancel handles POST /tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	task, err := h.orch.CancelTask(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": task.ID, "status": task.Status})
}

// Retry handles POST /tasks/:id/retry
func (h *TaskHandler) Retry(c *gin.Context) {
	res, err := h.orch.RetryTask(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// Delete handles DELETE /tasks/:id and DELETE /?task_id=
func (h *TaskHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		id = c.Query("task_id")
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing task_id"})
		return
	}

	if err := h.orch.DeletePendingTask(c.Request.Context(), currentUser(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "deleted": true})
}

// RunWorkflow handles POST /workflow
func (h *TaskHandler) RunWorkflow(c *gin.Context) {
	var req orchestrator.WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.orch.RunWorkflow(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListWorkflows handles GET /workflows
func (h *TaskHandler) ListWorkflows(c *gin.Context) {
	workflows, err := h.orch.ListWorkflows(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

// SaveWorkflow handles POST /workflows
func (h *TaskHandler) SaveWorkflow(c *gin.Context) {
	var wf model.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	saved, err := h.orch.SaveWorkflow(c.Request.Context(), currentUser(c), wf)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}
