package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sita/internal/habit"
	"sita/internal/model"
)

const (
	defaultGridWeeks = 12
	maxGridWeeks     = 53
)

type HabitHandler struct {
	tracker *habit.Tracker
	logger  *zap.Logger
}

func NewHabitHandler(tracker *habit.Tracker, logger *zap.Logger) *HabitHandler {
	return &HabitHandler{tracker: tracker, logger: logger}
}

// List handles GET /habits
func (h *HabitHandler) List(c *gin.Context) {
	habits, err := h.tracker.ListHabits(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habits": habits})
}

// Create handles POST /habits
func (h *HabitHandler) Create(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Frequency   string `json:"frequency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := h.tracker.CreateHabit(c.Request.Context(), currentUser(c), model.Habit{
		Title:       req.Title,
		Description: req.Description,
		Frequency:   req.Frequency,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Progress handles GET /habits/progress
func (h *HabitHandler) Progress(c *gin.Context) {
	progress, err := h.tracker.TodayProgress(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Grid handles GET /habits/grid?habit_id=&weeks=
func (h *HabitHandler) Grid(c *gin.Context) {
	weeks := defaultGridWeeks
	if raw := c.Query("weeks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxGridWeeks {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weeks must be between 1 and 53"})
			return
		}
		weeks = n
	}

	grid, err := h.tracker.ContributionGrid(c.Request.Context(), currentUser(c), c.Query("habit_id"), weeks)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weeks": weeks, "days": grid})
}

// Streak handles GET /habits/:id/streak
func (h *HabitHandler) Streak(c *gin.Context) {
	ctx := c.Request.Context()
	userID, habitID := currentUser(c), c.Param("id")

	streak, err := h.tracker.Streak(ctx, userID, habitID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	done, err := h.tracker.IsCompletedToday(ctx, userID, habitID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "streak": streak, "completed_today": done})
}

// Complete handles POST /habits/:id/complete?date=
func (h *HabitHandler) Complete(c *gin.Context) {
	h.toggle(c, h.tracker.Complete)
}

// Uncomplete handles DELETE /habits/:id/complete?date=
func (h *HabitHandler) Uncomplete(c *gin.Context) {
	h.toggle(c, h.tracker.Uncomplete)
}

type toggleFunc func(ctx context.Context, userID, habitID string, day time.Time) (int, error)

func (h *HabitHandler) toggle(c *gin.Context, fn toggleFunc) {
	var day time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := habit.ParseDay(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	habitID := c.Param("id")
	count, err := fn(c.Request.Context(), currentUser(c), habitID, day)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if day.IsZero() {
		day = h.tracker.Engine().Today()
	}
	c.JSON(http.StatusOK, gin.H{
		"habit_id": habitID,
		"date":     day.Format(habit.DateLayout),
		"count":    count,
	})
}
