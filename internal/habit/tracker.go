package habit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sita/internal/model"
	"sita/pkg/metrics"
)

var (
	ErrHabitNotFound = errors.New("habit not found")
	ErrInvalidInput  = errors.New("invalid habit input")
)

// HabitStore persists habit definitions.
type HabitStore interface {
	ListHabits(ctx context.Context, userID string) ([]model.Habit, error)
	CreateHabit(ctx context.Context, h *model.Habit) error
}

// CompletionStore persists completion rows. Increment creates the row with
// count 1 when absent; Decrement deletes the row when its count would drop to
// zero and is a no-op on an absent row. Both return the resulting count.
type CompletionStore interface {
	ListCompletions(ctx context.Context, userID string) ([]model.HabitCompletion, error)
	IncrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error)
	DecrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error)
}

type snapshot struct {
	habits      []model.Habit
	completions []model.HabitCompletion
	loadedAt    time.Time
}

// Tracker serves habit queries from per-user snapshots. Snapshots change only
// after the store accepted a write.
type Tracker struct {
	habits      HabitStore
	completions CompletionStore
	engine      *Engine
	maxAge      time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	snapshots map[string]*snapshot
}

func NewTracker(habits HabitStore, completions CompletionStore, engine *Engine, maxAge time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		habits:      habits,
		completions: completions,
		engine:      engine,
		maxAge:      maxAge,
		logger:      logger,
		snapshots:   make(map[string]*snapshot),
	}
}

func (t *Tracker) Engine() *Engine {
	return t.engine
}

// Refresh reloads the user's habits and completions from the stores.
func (t *Tracker) Refresh(ctx context.Context, userID string) error {
	_, err := t.load(ctx, userID)
	return err
}

func (t *Tracker) load(ctx context.Context, userID string) (*snapshot, error) {
	habits, err := t.habits.ListHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	completions, err := t.completions.ListCompletions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}

	snap := &snapshot{habits: habits, completions: completions, loadedAt: time.Now()}
	t.mu.Lock()
	t.snapshots[userID] = snap
	t.mu.Unlock()

	t.logger.Debug("Habit snapshot loaded",
		zap.String("user_id", userID),
		zap.Int("habits", len(habits)),
		zap.Int("completions", len(completions)),
	)
	return snap, nil
}

func (t *Tracker) snapshot(ctx context.Context, userID string) (*snapshot, error) {
	t.mu.Lock()
	snap, ok := t.snapshots[userID]
	t.mu.Unlock()
	if ok && (t.maxAge <= 0 || time.Since(snap.loadedAt) < t.maxAge) {
		return snap, nil
	}
	return t.load(ctx, userID)
}

func (t *Tracker) ListHabits(ctx context.Context, userID string) ([]model.Habit, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.habits, nil
}

func (t *Tracker) CreateHabit(ctx context.Context, userID string, h model.Habit) (*model.Habit, error) {
	h.Title = strings.TrimSpace(h.Title)
	if h.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if h.Frequency == "" {
		h.Frequency = "daily"
	}
	h.UserID = userID
	h.IsActive = true

	if err := t.habits.CreateHabit(ctx, &h); err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}

	t.mu.Lock()
	if snap, ok := t.snapshots[userID]; ok {
		habits := append(append([]model.Habit{}, snap.habits...), h)
		t.snapshots[userID] = &snapshot{habits: habits, completions: snap.completions, loadedAt: snap.loadedAt}
	}
	t.mu.Unlock()
	return &h, nil
}

func (t *Tracker) IsCompletedToday(ctx context.Context, userID, habitID string) (bool, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return t.engine.IsCompletedToday(snap.completions, habitID), nil
}

func (t *Tracker) Streak(ctx context.Context, userID, habitID string) (int, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return t.engine.Streak(snap.completions, habitID), nil
}

// ContributionGrid aggregates every habit when habitID is empty.
func (t *Tracker) ContributionGrid(ctx context.Context, userID, habitID string, weeks int) ([]model.ContributionDay, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.engine.ContributionGrid(snap.completions, habitID, weeks), nil
}

func (t *Tracker) TodayProgress(ctx context.Context, userID string) (model.TodayProgress, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return model.TodayProgress{}, err
	}
	return t.engine.TodayProgress(snap.habits, snap.completions), nil
}

// Complete records one more completion of habitID on day (today when zero).
func (t *Tracker) Complete(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	day, err := t.prepareWrite(ctx, userID, habitID, day)
	if err != nil {
		return 0, err
	}

	count, err := t.completions.IncrementCompletion(ctx, userID, habitID, day)
	if err != nil {
		t.logger.Error("Failed to complete habit",
			zap.String("user_id", userID),
			zap.String("habit_id", habitID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("complete habit: %w", err)
	}

	t.apply(userID, habitID, day, count)
	metrics.IncrementHabitCompletion("complete")
	return count, nil
}

// Uncomplete removes one completion; removing from an absent day is a no-op.
func (t *Tracker) Uncomplete(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	day, err := t.prepareWrite(ctx, userID, habitID, day)
	if err != nil {
		return 0, err
	}

	count, err := t.completions.DecrementCompletion(ctx, userID, habitID, day)
	if err != nil {
		t.logger.Error("Failed to uncomplete habit",
			zap.String("user_id", userID),
			zap.String("habit_id", habitID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("uncomplete habit: %w", err)
	}

	t.apply(userID, habitID, day, count)
	metrics.IncrementHabitCompletion("uncomplete")
	return count, nil
}

func (t *Tracker) prepareWrite(ctx context.Context, userID, habitID string, day time.Time) (time.Time, error) {
	snap, err := t.snapshot(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !hasHabit(snap.habits, habitID) {
		return time.Time{}, ErrHabitNotFound
	}
	if day.IsZero() {
		return t.engine.Today(), nil
	}
	return Day(day, nil), nil
}

// apply replaces the snapshot with one reflecting the stored count.
func (t *Tracker) apply(userID, habitID string, day time.Time, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snapshots[userID]
	if !ok {
		return
	}

	completions := make([]model.HabitCompletion, 0, len(snap.completions)+1)
	for _, c := range snap.completions {
		if c.HabitID == habitID && Day(c.CompletedOn, nil).Equal(day) {
			continue
		}
		completions = append(completions, c)
	}
	if count > 0 {
		completions = append(completions, model.HabitCompletion{
			HabitID:     habitID,
			UserID:      userID,
			CompletedOn: day,
			Count:       count,
		})
	}
	t.snapshots[userID] = &snapshot{habits: snap.habits, completions: completions, loadedAt: snap.loadedAt}
}

func hasHabit(habits []model.Habit, habitID string) bool {
	for _, h := range habits {
		if h.ID == habitID {
			return true
		}
	}
	return false
}
