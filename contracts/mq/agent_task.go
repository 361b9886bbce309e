package mq

import "time"

// TaskQueuedPayload announces a pending agent task to workers.
type TaskQueuedPayload struct {
	TaskID   string    `json:"task_id"`
	UserID   string    `json:"user_id"`
	TaskType string    `json:"task_type"`
	Priority int       `json:"priority"`
	QueuedAt time.Time `json:"queued_at"`
	TraceID  string    `json:"trace_id,omitempty"`
}

// TaskFinishedPayload is published once a task reaches a terminal status.
type TaskFinishedPayload struct {
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	TaskType   string    `json:"task_type"`
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
