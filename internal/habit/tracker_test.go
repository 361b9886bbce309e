package habit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sita/internal/habit"
	"sita/internal/model"
	"sita/internal/store/memory"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*habit.Tracker, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	engine := habit.NewEngine(time.UTC, func() time.Time { return now })
	tr := habit.NewTracker(store, store, engine, time.Minute, zap.NewNop())

	h, err := tr.CreateHabit(context.Background(), "u1", model.Habit{Title: "Read"})
	require.NoError(t, err)
	return tr, store, h.ID
}

func TestTracker_RepeatedToggling(t *testing.T) {
	ctx := context.Background()
	tr, store, habitID := newTracker(t)

	n, err := tr.Complete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.Complete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tr.Uncomplete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, err := tr.IsCompletedToday(ctx, "u1", habitID)
	require.NoError(t, err)
	assert.True(t, done)

	n, err = tr.Uncomplete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Absent record: a further uncomplete is a no-op.
	n, err = tr.Uncomplete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := store.ListCompletions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	done, err = tr.IsCompletedToday(ctx, "u1", habitID)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTracker_StoreFailureLeavesSnapshotUnchanged(t *testing.T) {
	ctx := context.Background()
	tr, store, habitID := newTracker(t)

	_, err := tr.Complete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)

	boom := errors.New("connection reset")
	store.FailWrites(boom)

	_, err = tr.Complete(ctx, "u1", habitID, time.Time{})
	assert.ErrorIs(t, err, boom)
	_, err = tr.Uncomplete(ctx, "u1", habitID, time.Time{})
	assert.ErrorIs(t, err, boom)

	grid, err := tr.ContributionGrid(ctx, "u1", habitID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, grid[6].Count)

	streak, err := tr.Streak(ctx, "u1", habitID)
	require.NoError(t, err)
	assert.Equal(t, 1, streak)
}

func TestTracker_PastDateAndProgress(t *testing.T) {
	ctx := context.Background()
	tr, _, habitID := newTracker(t)

	_, err := tr.CreateHabit(ctx, "u1", model.Habit{Title: "Walk"})
	require.NoError(t, err)

	yesterday := now.AddDate(0, 0, -1)
	_, err = tr.Complete(ctx, "u1", habitID, yesterday)
	require.NoError(t, err)

	streak, err := tr.Streak(ctx, "u1", habitID)
	require.NoError(t, err)
	assert.Equal(t, 1, streak)

	progress, err := tr.TodayProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TodayProgress{Completed: 0, Total: 2, Percentage: 0}, progress)

	_, err = tr.Complete(ctx, "u1", habitID, time.Time{})
	require.NoError(t, err)

	progress, err = tr.TodayProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TodayProgress{Completed: 1, Total: 2, Percentage: 50}, progress)

	streak, err = tr.Streak(ctx, "u1", habitID)
	require.NoError(t, err)
	assert.Equal(t, 2, streak)
}

func TestTracker_UnknownHabit(t *testing.T) {
	ctx := context.Background()
	tr, _, habitID := newTracker(t)

	_, err := tr.Complete(ctx, "u1", "missing", time.Time{})
	assert.ErrorIs(t, err, habit.ErrHabitNotFound)

	_, err = tr.Complete(ctx, "u2", habitID, time.Time{})
	assert.ErrorIs(t, err, habit.ErrHabitNotFound)

	habits, err := tr.ListHabits(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, habits)
}

func TestTracker_CreateHabitValidates(t *testing.T) {
	tr, _, _ := newTracker(t)

	_, err := tr.CreateHabit(context.Background(), "u1", model.Habit{Title: "   "})
	assert.ErrorIs(t, err, habit.ErrInvalidInput)
}
