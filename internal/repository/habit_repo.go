package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sita/internal/model"
)

type HabitRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewHabitRepository(db *pgxpool.Pool, logger *zap.Logger) *HabitRepository {
	return &HabitRepository{db: db, logger: logger}
}

func (r *HabitRepository) CreateHabit(ctx context.Context, h *model.Habit) error {
	r.logger.Debug("Inserting habit",
		zap.String("user_id", h.UserID),
		zap.String("title", h.Title),
	)
	query := `
        INSERT INTO habits (user_id, title, description, frequency, is_active)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		h.UserID,
		h.Title,
		h.Description,
		h.Frequency,
		h.IsActive,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert habit", zap.String("user_id", h.UserID), zap.Error(err))
		return err
	}
	r.logger.Info("Habit inserted", zap.String("habit_id", h.ID), zap.String("user_id", h.UserID))
	return nil
}

func (r *HabitRepository) ListHabits(ctx context.Context, userID string) ([]model.Habit, error) {
	query := `
        SELECT id, user_id, title, description, frequency, is_active, created_at, updated_at
        FROM habits
        WHERE user_id = $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to query habits", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	habits := []model.Habit{}
	for rows.Next() {
		var h model.Habit
		if err := rows.Scan(
			&h.ID,
			&h.UserID,
			&h.Title,
			&h.Description,
			&h.Frequency,
			&h.IsActive,
			&h.CreatedAt,
			&h.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to scan habit row", zap.String("user_id", userID), zap.Error(err))
			return nil, err
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// CompletionRepository stores one row per habit and day; repeated completions
// bump the count.
type CompletionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCompletionRepository(db *pgxpool.Pool, logger *zap.Logger) *CompletionRepository {
	return &CompletionRepository{db: db, logger: logger}
}

func (r *CompletionRepository) ListCompletions(ctx context.Context, userID string) ([]model.HabitCompletion, error) {
	query := `
        SELECT habit_id, user_id, completed_on, count
        FROM habit_completions
        WHERE user_id = $1
        ORDER BY completed_on DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to query completions", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	completions := []model.HabitCompletion{}
	for rows.Next() {
		var c model.HabitCompletion
		if err := rows.Scan(&c.HabitID, &c.UserID, &c.CompletedOn, &c.Count); err != nil {
			return nil, err
		}
		completions = append(completions, c)
	}
	return completions, rows.Err()
}

func (r *CompletionRepository) IncrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	query := `
        INSERT INTO habit_completions (habit_id, user_id, completed_on, count)
        VALUES ($1, $2, $3, 1)
        ON CONFLICT (habit_id, completed_on)
        DO UPDATE SET count = habit_completions.count + 1
        RETURNING count
    `
	var count int
	if err := r.db.QueryRow(ctx, query, habitID, userID, day).Scan(&count); err != nil {
		r.logger.Error("Failed to increment completion",
			zap.String("habit_id", habitID),
			zap.Time("day", day),
			zap.Error(err),
		)
		return 0, err
	}
	r.logger.Debug("Completion incremented", zap.String("habit_id", habitID), zap.Int("count", count))
	return count, nil
}

// DecrementCompletion lowers the count or deletes the row at one. A missing
// row is left alone.
func (r *CompletionRepository) DecrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        DELETE FROM habit_completions
        WHERE habit_id = $1 AND user_id = $2 AND completed_on = $3 AND count <= 1
    `, habitID, userID, day); err != nil {
		r.logger.Error("Failed to delete completion", zap.String("habit_id", habitID), zap.Error(err))
		return 0, err
	}

	var count int
	err = tx.QueryRow(ctx, `
        UPDATE habit_completions
        SET count = count - 1
        WHERE habit_id = $1 AND user_id = $2 AND completed_on = $3
        RETURNING count
    `, habitID, userID, day).Scan(&count)
	if err != nil && !isNoRows(err) {
		r.logger.Error("Failed to decrement completion", zap.String("habit_id", habitID), zap.Error(err))
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}
