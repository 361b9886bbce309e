// Package httpserver exposes the orchestrator and habit tracker over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sita/pkg/rbac"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	JWTSecret string
	Tasks     *TaskHandler
	Habits    *HabitHandler
	Auth      *AuthHandler
	// Admin is optional; outbox routes are only mounted when it is set.
	Admin  *AdminHandler
	Checks map[string]ReadinessCheck
	Logger *zap.Logger
}

func NewRouter(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(cfg.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, check := range cfg.Checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", cfg.Auth.Register)
	r.POST("/login", cfg.Auth.Login)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(cfg.JWTSecret))
	{
		t := cfg.Tasks
		auth.POST("/execute", RequirePermission(rbac.PermissionExecuteTask), t.Execute)
		auth.POST("/queue", RequirePermission(rbac.PermissionQueueTask), t.Queue)
		auth.GET("/agents", RequirePermission(rbac.PermissionReadTask), t.ListAgents)
		auth.GET("/tasks", RequirePermission(rbac.PermissionReadTask), t.ListTasks)
		auth.GET("/tasks/:id", RequirePermission(rbac.PermissionReadTask), t.GetTask)
		auth.POST("/tasks/:id/cancel", RequirePermission(rbac.PermissionCancelTask), t.Cancel)
		auth.POST("/tasks/:id/retry", RequirePermission(rbac.PermissionQueueTask), t.Retry)
		auth.DELETE("/tasks/:id", RequirePermission(rbac.PermissionDeleteTask), t.Delete)
		auth.DELETE("/", RequirePermission(rbac.PermissionDeleteTask), t.Delete)
		auth.POST("/workflow", RequirePermission(rbac.PermissionRunWorkflow), t.RunWorkflow)
		auth.GET("/workflows", RequirePermission(rbac.PermissionRunWorkflow), t.ListWorkflows)
		auth.POST("/workflows", RequirePermission(rbac.PermissionWriteWorkflow), t.SaveWorkflow)

		hb := cfg.Habits
		auth.GET("/habits", RequirePermission(rbac.PermissionReadHabit), hb.List)
		auth.POST("/habits", RequirePermission(rbac.PermissionWriteHabit), hb.Create)
		auth.GET("/habits/progress", RequirePermission(rbac.PermissionReadHabit), hb.Progress)
		auth.GET("/habits/grid", RequirePermission(rbac.PermissionReadHabit), hb.Grid)
		auth.GET("/habits/:id/streak", RequirePermission(rbac.PermissionReadHabit), hb.Streak)
		auth.POST("/habits/:id/complete", RequirePermission(rbac.PermissionWriteHabit), hb.Complete)
		auth.DELETE("/habits/:id/complete", RequirePermission(rbac.PermissionWriteHabit), hb.Uncomplete)

		if cfg.Admin != nil {
			admin := auth.Group("/admin/outbox", RequirePermission(rbac.PermissionReplayOutbox))
			admin.GET("/failed", cfg.Admin.ListFailedEvents)
			admin.POST("/replay", cfg.Admin.ReplayOutboxEvent)
			admin.POST("/replay-failed", cfg.Admin.ReplayFailedEvents)
		}
	}

	return r
}
