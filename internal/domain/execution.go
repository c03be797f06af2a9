package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusError     ExecutionStatus = "error"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ExecutionRecord records one invocation of a job. It references the job by id only.
type ExecutionRecord struct {
	ID    uuid.UUID
	JobID string

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Status        ExecutionStatus
	Severity      Severity
	OutputSummary string
	ErrorDetail   string
}

// Succeeded reports whether the run counts as a success for stats.
func (r ExecutionRecord) Succeeded() bool {
	return r.Status == ExecutionStatusCompleted && r.Severity == SeveritySuccess
}
