package model

import "time"

type Habit struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Frequency   string    `json:"frequency"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HabitCompletion records how many times a habit was done on one calendar day.
// CompletedOn is a civil date stored as midnight UTC.
type HabitCompletion struct {
	HabitID     string    `json:"habit_id"`
	UserID      string    `json:"user_id"`
	CompletedOn time.Time `json:"completed_on"`
	Count       int       `json:"count"`
}

// ContributionDay is one cell of the contribution grid.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

type TodayProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}
