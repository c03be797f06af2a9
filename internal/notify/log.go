package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/domain"
)

// LogChannel writes notifications as structured log lines.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("component", "notify.log").Logger()}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Notify(ctx context.Context, n Notification) error {
	var ev *zerolog.Event
	switch n.Severity {
	case domain.SeverityError:
		ev = l.logger.Error()
	case domain.SeverityWarning:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("job_id", n.JobID).
		Str("job_name", n.JobName).
		Str("execution_id", n.ExecutionID).
		Str("severity", string(n.Severity)).
		Str("summary", n.Summary).
		Int64("duration_ms", n.DurationMs)
	if n.Error != "" {
		ev.Str("error", n.Error)
	}
	ev.Msg("job notification")
	return nil
}
