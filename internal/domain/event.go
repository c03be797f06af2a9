package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStarted   EventType = "councilor_started"
	EventCompleted EventType = "councilor_completed"
	EventError     EventType = "councilor_error"
)

// LifecycleEvent is published on the event bus as executions progress.
type LifecycleEvent struct {
	Type        EventType
	ExecutionID uuid.UUID
	JobID       string
	TaskName    string
	Severity    Severity
	Error       string

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}
