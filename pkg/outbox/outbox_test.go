package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sita/pkg/trace"
)

type fakeStore struct {
	events map[int64]*Event
	sent   []int64
	failed []int64
}

func newFakeStore(events ...*Event) *fakeStore {
	s := &fakeStore{events: make(map[int64]*Event)}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)); id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)); id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *fakeStore) MarkAsSent(ctx context.Context, id int64) error {
	s.events[id].Status = StatusSent
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(ctx context.Context, id int64, maxRetries int) error {
	s.failed = append(s.failed, id)
	return nil
}

type published struct {
	routingKey string
	traceID    string
}

type fakePublisher struct {
	calls []published
	err   error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, published{routingKey: routingKey, traceID: trace.FromContext(ctx)})
	return nil
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatcher_PublishesPendingEvents(t *testing.T) {
	store := newFakeStore(
		&Event{ID: 1, RoutingKey: "agent_task.queued", Status: StatusPending, Payload: rawJSON(t, map[string]any{"task_id": "a", "trace_id": "t-1"})},
		&Event{ID: 2, RoutingKey: "agent_task.queued", Status: StatusPending, Payload: rawJSON(t, map[string]any{"task_id": "b"})},
	)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, zap.NewNop()).WithBatchSize(10)

	sent := d.ProcessPendingEvents(context.Background())

	assert.Equal(t, 2, sent)
	assert.ElementsMatch(t, []int64{1, 2}, store.sent)
	require.Len(t, pub.calls, 2)
	assert.Equal(t, "t-1", pub.calls[0].traceID)
	assert.Empty(t, pub.calls[1].traceID)
}

func TestDispatcher_MarksFailedOnPublishError(t *testing.T) {
	store := newFakeStore(&Event{ID: 1, RoutingKey: "x", Status: StatusPending, Payload: rawJSON(t, map[string]any{})})
	d := NewDispatcher(store, &fakePublisher{err: errors.New("closed")}, zap.NewNop())

	assert.Equal(t, 0, d.ProcessPendingEvents(context.Background()))
	assert.Equal(t, []int64{1}, store.failed)
	assert.Empty(t, store.sent)
}

func TestReplayService_ReplaysFailedEvents(t *testing.T) {
	store := newFakeStore(
		&Event{ID: 1, RoutingKey: "x", Status: StatusFailed, Payload: rawJSON(t, map[string]any{})},
		&Event{ID: 2, RoutingKey: "x", Status: StatusSent, Payload: rawJSON(t, map[string]any{})},
	)
	pub := &fakePublisher{}
	svc := NewReplayService(store, pub, zap.NewNop())

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.events[1].Status)

	err = svc.ReplayEvent(context.Background(), 99)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	status, next := nextAttempt(2, 5, now)
	assert.Equal(t, StatusPending, status)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(10*time.Second), *next)

	status, next = nextAttempt(5, 5, now)
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, next)
}
