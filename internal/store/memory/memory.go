// Package memory is an in-process implementation of every store interface.
// It backs tests and the "memory" storage mode of the server.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sita/internal/model"
)

type completionKey struct {
	habitID string
	day     time.Time
}

type Store struct {
	mu sync.Mutex

	users       map[string]model.User
	habits      map[string]model.Habit
	completions map[completionKey]model.HabitCompletion
	agents      map[string]model.Agent
	tasks       map[string]model.AgentTask
	workflows   map[string]model.Workflow
	activity    []model.ActivityLog

	writeErr  error
	onEnqueue func(taskID string)
}

func New() *Store {
	return &Store{
		users:       make(map[string]model.User),
		habits:      make(map[string]model.Habit),
		completions: make(map[completionKey]model.HabitCompletion),
		agents:      make(map[string]model.Agent),
		tasks:       make(map[string]model.AgentTask),
		workflows:   make(map[string]model.Workflow),
	}
}

// FailWrites makes every subsequent write return err; nil restores writes.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// OnEnqueue registers fn to be called after a task was queued.
func (s *Store) OnEnqueue(fn func(taskID string)) {
	s.mu.Lock()
	s.onEnqueue = fn
	s.mu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// users

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	s.users[u.ID] = *u
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, model.ErrNotFound
}

// habits

func (s *Store) ListHabits(ctx context.Context, userID string) ([]model.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Habit{}
	for _, h := range s.habits {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateHabit(ctx context.Context, h *model.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now()
	h.CreatedAt, h.UpdatedAt = now, now
	s.habits[h.ID] = *h
	return nil
}

func (s *Store) ListCompletions(ctx context.Context, userID string) ([]model.HabitCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.HabitCompletion{}
	for _, c := range s.completions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedOn.After(out[j].CompletedOn) })
	return out, nil
}

func (s *Store) IncrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	key := completionKey{habitID: habitID, day: civil(day)}
	c, ok := s.completions[key]
	if !ok {
		c = model.HabitCompletion{HabitID: habitID, UserID: userID, CompletedOn: key.day}
	}
	c.Count++
	s.completions[key] = c
	return c.Count, nil
}

func (s *Store) DecrementCompletion(ctx context.Context, userID, habitID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	key := completionKey{habitID: habitID, day: civil(day)}
	c, ok := s.completions[key]
	if !ok || c.UserID != userID {
		return 0, nil
	}
	if c.Count <= 1 {
		delete(s.completions, key)
		return 0, nil
	}
	c.Count--
	s.completions[key] = c
	return c.Count, nil
}

// agents

// PutAgent inserts or replaces an agent definition.
func (s *Store) PutAgent(a model.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.agents[a.ID] = a
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &a, nil
}

func (s *Store) FindActiveAgents(ctx context.Context, name string) ([]model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Agent{}
	for _, a := range s.agents {
		if a.IsActive && a.Name == name {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Agent{}
	for _, a := range s.agents {
		if a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// tasks

func (s *Store) CreateTask(ctx context.Context, t *model.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTask(t)
}

func (s *Store) EnqueueTask(ctx context.Context, t *model.AgentTask) error {
	s.mu.Lock()
	if err := s.insertTask(t); err != nil {
		s.mu.Unlock()
		return err
	}
	hook := s.onEnqueue
	s.mu.Unlock()

	if hook != nil {
		hook(t.ID)
	}
	return nil
}

func (s *Store) insertTask(t *model.AgentTask) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if _, exists := s.tasks[t.ID]; exists {
		return model.ErrDuplicate
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	t = cloneTask(t)
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AgentTask{}
	for _, t := range s.tasks {
		if t.UserID != userID || (filter.Status != "" && t.Status != filter.Status) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Transition(ctx context.Context, id string, from []model.TaskStatus, tr model.TaskTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return false, s.writeErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if !slices.Contains(from, t.Status) {
		return false, nil
	}

	t.Status = tr.To
	if tr.AgentID != nil {
		t.AgentID = tr.AgentID
	}
	if tr.OutputData != nil {
		t.OutputData = maps.Clone(tr.OutputData)
	}
	if tr.ErrorMessage != nil {
		t.ErrorMessage = tr.ErrorMessage
	}
	if tr.StartedAt != nil {
		t.StartedAt = tr.StartedAt
	}
	if tr.CompletedAt != nil && t.CompletedAt == nil {
		t.CompletedAt = tr.CompletedAt
	}
	s.tasks[id] = t
	return true, nil
}

func (s *Store) DeletePendingTask(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return false, s.writeErr
	}
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID || t.Status != model.TaskStatusPending {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

// TaskCount returns the number of stored tasks.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// workflows

func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	s.workflows[wf.ID] = *wf
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, userID, id string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || wf.UserID != userID {
		return nil, model.ErrNotFound
	}
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, userID string) ([]model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Workflow{}
	for _, wf := range s.workflows {
		if wf.UserID == userID {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// activity

func (s *Store) RecordActivity(ctx context.Context, entry *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	entry.ID = int64(len(s.activity) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.activity = append(s.activity, *entry)
	return nil
}

// Activity returns a copy of the activity log.
func (s *Store) Activity() []model.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ActivityLog(nil), s.activity...)
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneTask(t model.AgentTask) model.AgentTask {
	t.InputData = maps.Clone(t.InputData)
	t.Context = maps.Clone(t.Context)
	t.OutputData = maps.Clone(t.OutputData)
	return t
}
