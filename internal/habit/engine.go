// Package habit computes streaks, contribution grids and daily progress over
// habit completion records, and keeps per-user completion snapshots in sync
// with the completion store.
package habit

import (
	"math"
	"time"

	"sita/internal/model"
)

// DateLayout is the wire format of a calendar date.
const DateLayout = "2006-01-02"

// Day returns the calendar date of t in loc, encoded as midnight UTC.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Engine evaluates completions relative to "today" in a fixed location.
type Engine struct {
	loc *time.Location
	now func() time.Time
}

func NewEngine(loc *time.Location, now func() time.Time) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{loc: loc, now: now}
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// Today is the current calendar date in the engine's location.
func (e *Engine) Today() time.Time {
	return Day(e.now(), e.loc)
}

func (e *Engine) IsCompletedToday(completions []model.HabitCompletion, habitID string) bool {
	today := e.Today()
	for _, c := range completions {
		if c.HabitID == habitID && c.Count > 0 && Day(c.CompletedOn, nil).Equal(today) {
			return true
		}
	}
	return false
}

// Streak counts consecutive completed days ending today. When today has no
// completion yet the count starts from yesterday instead.
func (e *Engine) Streak(completions []model.HabitCompletion, habitID string) int {
	done := make(map[time.Time]bool)
	for _, c := range completions {
		if c.HabitID == habitID && c.Count > 0 {
			done[Day(c.CompletedOn, nil)] = true
		}
	}
	if len(done) == 0 {
		return 0
	}

	cursor := e.Today()
	if !done[cursor] {
		cursor = cursor.AddDate(0, 0, -1)
	}

	streak := 0
	for done[cursor] {
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak
}

// ContributionGrid returns weeks*7 days ending today, oldest first. An empty
// habitID aggregates every habit. Levels are relative to the busiest day in
// the window.
func (e *Engine) ContributionGrid(completions []model.HabitCompletion, habitID string, weeks int) []model.ContributionDay {
	if weeks <= 0 {
		return []model.ContributionDay{}
	}

	days := weeks * 7
	today := e.Today()
	start := today.AddDate(0, 0, -(days - 1))

	counts := make(map[time.Time]int)
	for _, c := range completions {
		if habitID != "" && c.HabitID != habitID {
			continue
		}
		d := Day(c.CompletedOn, nil)
		if d.Before(start) || d.After(today) {
			continue
		}
		counts[d] += c.Count
	}

	maxCount := 0
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
	}

	grid := make([]model.ContributionDay, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		n := counts[d]
		grid = append(grid, model.ContributionDay{
			Date:  d.Format(DateLayout),
			Count: n,
			Level: Level(n, maxCount),
		})
	}
	return grid
}

// Level buckets count/max into 0..4; each of 1..4 covers a quarter of (0, max].
func Level(count, max int) int {
	if count <= 0 || max <= 0 {
		return 0
	}
	ratio := float64(count) / float64(max)
	switch {
	case ratio <= 0.25:
		return 1
	case ratio <= 0.5:
		return 2
	case ratio <= 0.75:
		return 3
	default:
		return 4
	}
}

// TodayProgress reports how many active habits are completed today.
func (e *Engine) TodayProgress(habits []model.Habit, completions []model.HabitCompletion) model.TodayProgress {
	var p model.TodayProgress
	for _, h := range habits {
		if !h.IsActive {
			continue
		}
		p.Total++
		if e.IsCompletedToday(completions, h.ID) {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	return p
}
