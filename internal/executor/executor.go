// Package executor runs a due job against the agent backend and records the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/domain"
)

const (
	DefaultTimeout          = 10 * time.Minute
	DefaultOutputSummaryMax = 2000
	DefaultRecordTimeout    = 10 * time.Second
)

// Backend invokes the monitored agent and returns its text output.
type Backend interface {
	Invoke(ctx context.Context, task domain.TaskSpec) (string, error)
}

type Store interface {
	InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// StatsUpdater counts a finished execution. Errors are handled by the implementation.
type StatsUpdater interface {
	Update(ctx context.Context, jobID string, success bool, at time.Time)
}

// Notifier decides whether an outcome warrants a notification and delivers it.
type Notifier interface {
	Evaluate(ctx context.Context, job domain.Job, rec domain.ExecutionRecord)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.LifecycleEvent) error
}

// MetricsSink defines the interface for recording execution metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionCompleted(severity string, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
	RecordWriteFailed()
}

type Config struct {
	DefaultTimeout   time.Duration
	OutputSummaryMax int
	// RecordTimeout bounds the record, stats and notification steps,
	// which run detached from the caller's cancellation.
	RecordTimeout time.Duration
	// RecordAttempts is how many times an unavailable store is retried.
	RecordAttempts int
	RecordBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.OutputSummaryMax <= 0 {
		c.OutputSummaryMax = DefaultOutputSummaryMax
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = DefaultRecordTimeout
	}
	if c.RecordAttempts <= 0 {
		c.RecordAttempts = 3
	}
	if c.RecordBackoff <= 0 {
		c.RecordBackoff = 200 * time.Millisecond
	}
	return c
}

type Executor struct {
	config     Config
	backend    Backend
	store      Store
	classifier *Classifier
	stats      StatsUpdater // optional, nil = disabled
	notifier   Notifier     // optional, nil = disabled
	events     EventEmitter // optional, nil = disabled
	metrics    MetricsSink  // optional, nil = disabled
	logger     zerolog.Logger
	clock      func() time.Time
}

func New(config Config, backend Backend, store Store) *Executor {
	return &Executor{
		config:     config.withDefaults(),
		backend:    backend,
		store:      store,
		classifier: defaultClassifier,
		logger:     log.Logger.With().Str("component", "executor").Logger(),
		clock:      time.Now,
	}
}

func (e *Executor) WithClassifier(c *Classifier) *Executor {
	e.classifier = c
	return e
}

func (e *Executor) WithStats(s StatsUpdater) *Executor {
	e.stats = s
	return e
}

func (e *Executor) WithNotifier(n Notifier) *Executor {
	e.notifier = n
	return e
}

func (e *Executor) WithEvents(em EventEmitter) *Executor {
	e.events = em
	return e
}

func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

func (e *Executor) WithLogger(logger zerolog.Logger) *Executor {
	e.logger = logger.With().Str("component", "executor").Logger()
	return e
}

// Execute runs one invocation of job. Backend failures and timeouts are
// recorded, never returned. Exactly one record is written, then stats and
// notifications are updated once each. Cancelling ctx aborts the backend
// call but not the bookkeeping that follows it.
func (e *Executor) Execute(ctx context.Context, job domain.Job) domain.ExecutionRecord {
	if e.metrics != nil {
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	rec := domain.ExecutionRecord{
		ID:        uuid.New(),
		JobID:     job.ID,
		StartedAt: e.clock().UTC(),
	}
	logger := e.logger.With().Str("job_id", job.ID).Str("execution_id", rec.ID.String()).Logger()

	e.emit(ctx, domain.LifecycleEvent{
		Type:        domain.EventStarted,
		ExecutionID: rec.ID,
		JobID:       job.ID,
		TaskName:    job.Task.Name,
		StartedAt:   rec.StartedAt,
	})

	timeout := job.Task.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	output, err := e.backend.Invoke(invokeCtx, job.Task)
	timedOut := errors.Is(invokeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	rec.CompletedAt = e.clock().UTC()
	rec.Duration = rec.CompletedAt.Sub(rec.StartedAt)
	rec.OutputSummary = Summarize(output, e.config.OutputSummaryMax)

	if err != nil {
		if timedOut {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		execErr := &domain.ExecutionError{JobID: job.ID, Err: err}
		rec.Status = domain.ExecutionStatusError
		rec.Severity = domain.SeverityError
		rec.ErrorDetail = execErr.Err.Error()
		logger.Warn().Err(execErr).Dur("duration", rec.Duration).Msg("execution failed")
	} else {
		rec.Status = domain.ExecutionStatusCompleted
		rec.Severity = e.classifier.Classify(output)
		logger.Info().Str("severity", string(rec.Severity)).Dur("duration", rec.Duration).Msg("execution completed")
	}

	bookkeeping, cancelBookkeeping := context.WithTimeout(context.WithoutCancel(ctx), e.config.RecordTimeout)
	defer cancelBookkeeping()

	if err := e.writeRecord(bookkeeping, rec); err != nil {
		logger.Error().Err(err).Msg("failed to write execution record")
		if e.metrics != nil {
			e.metrics.RecordWriteFailed()
		}
	}
	if e.stats != nil {
		e.stats.Update(bookkeeping, job.ID, rec.Succeeded(), rec.CompletedAt)
	}
	if e.notifier != nil {
		e.notifier.Evaluate(bookkeeping, job, rec)
	}
	if e.metrics != nil {
		e.metrics.ExecutionCompleted(string(rec.Severity), rec.Duration)
	}

	done := domain.LifecycleEvent{
		Type:        domain.EventCompleted,
		ExecutionID: rec.ID,
		JobID:       job.ID,
		TaskName:    job.Task.Name,
		Severity:    rec.Severity,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Duration:    rec.Duration,
	}
	if rec.Status == domain.ExecutionStatusError {
		done.Type = domain.EventError
		done.Error = rec.ErrorDetail
	}
	e.emit(bookkeeping, done)

	return rec
}

// writeRecord retries while the store is unavailable.
func (e *Executor) writeRecord(ctx context.Context, rec domain.ExecutionRecord) error {
	backoff := e.config.RecordBackoff
	var err error
	for attempt := 1; attempt <= e.config.RecordAttempts; attempt++ {
		err = e.store.InsertExecution(ctx, rec)
		if err == nil || !errors.Is(err, domain.ErrStoreUnavailable) || attempt == e.config.RecordAttempts {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}

func (e *Executor) emit(ctx context.Context, event domain.LifecycleEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Emit(ctx, event); err != nil {
		e.logger.Debug().Err(err).Str("event", string(event.Type)).Str("job_id", event.JobID).Msg("lifecycle event dropped")
	}
}

// Summarize trims output and cuts it to at most limit runes.
func Summarize(output string, limit int) string {
	s := strings.TrimSpace(output)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	const ellipsis = "..."
	if limit <= len(ellipsis) {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-len(ellipsis)]) + ellipsis
}
