package metrics

import (
	"strings"
	"time"
)

// Sink is the union of every component's metrics interface.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler
	JobsArmedUpdate(count int)
	JobFired()
	OverlapDeferred()
	PersistRetry(success bool)

	// Executor
	ExecutionCompleted(severity string, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
	RecordWriteFailed()

	// Backend
	BackendRequestCompleted(statusClass string, duration time.Duration)

	// Notifications
	NotificationOutcome(channel, outcome string)

	// Stats
	StatsUpdateFailed(target string)

	// EventBus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// StatusClass constants for BackendRequestCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and transport error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
