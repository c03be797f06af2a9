// Package control implements the operations an administrator uses to manage
// scheduled jobs. Every mutation is persisted before the in-memory schedule
// changes, and every mutation is idempotent.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/scheduler"
	"github.com/djlord-it/councilor/internal/store"
	"github.com/djlord-it/councilor/internal/trigger"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Store interface {
	UpsertJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	SetEnabled(ctx context.Context, jobID string, enabled bool, next *time.Time) error
	ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]domain.ExecutionRecord, error)
	LatestExecution(ctx context.Context, jobID string) (domain.ExecutionRecord, error)
	GetStats(ctx context.Context, jobID string) (domain.Stats, error)
	Ping(ctx context.Context) error
}

// StatsReader serves per-job counters. The store satisfies it; the stats
// aggregator adds a mirror fallback.
type StatsReader interface {
	GetStats(ctx context.Context, jobID string) (domain.Stats, error)
}

type Scheduler interface {
	Arm(ctx context.Context, job domain.Job) (time.Time, error)
	Disarm(jobID string) bool
	State(jobID string) (scheduler.State, *time.Time)
	Shutdown(ctx context.Context) error
}

type JobState string

const (
	StateScheduled JobState = "scheduled"
	StateFiring    JobState = "firing"
	StatePaused    JobState = "paused"
	// StateIdle is an enabled job that holds no timer, e.g. after a failed arm.
	StateIdle JobState = "idle"
)

// Status is a job's definition, live scheduling state and counters.
type Status struct {
	Job       domain.Job
	State     JobState
	NextRunAt *time.Time
	Stats     domain.Stats
}

// Report extends Status with the most recent executions.
type Report struct {
	Status
	Recent []domain.ExecutionRecord
}

type Service struct {
	store     Store
	stats     StatsReader
	scheduler Scheduler
	clock     func() time.Time
	logger    zerolog.Logger

	// mu serializes mutations so store and timer changes for a job are
	// applied in the same order.
	mu sync.Mutex
}

func New(store Store, sched Scheduler) *Service {
	return &Service{
		store:     store,
		stats:     store,
		scheduler: sched,
		clock:     time.Now,
		logger:    log.Logger.With().Str("component", "control").Logger(),
	}
}

func (s *Service) WithStats(r StatsReader) *Service {
	s.stats = r
	return s
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "control").Logger()
	return s
}

// Schedule registers or replaces a job. The definition and its first fire
// time are committed to the store before the timer is armed. A disabled job
// is stored without a fire time and is not armed.
func (s *Service) Schedule(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.Task.TargetID == "" {
		job.Task.TargetID = job.ID
	}
	if err := store.ValidateJob(job); err != nil {
		return domain.Job{}, err
	}
	tr, err := trigger.Parse(job.Trigger)
	if err != nil {
		return domain.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.NextRunAt = nil
	if job.Enabled {
		next := trigger.NextFireAfter(tr, now, now)
		job.NextRunAt = &next
	}

	if err := s.store.UpsertJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("schedule %s: %w", job.ID, err)
	}

	if !job.Enabled {
		s.scheduler.Disarm(job.ID)
	} else if _, err := s.scheduler.Arm(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("schedule %s: arm: %w", job.ID, err)
	}

	stored, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		// The job is committed and armed; report what was written.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("re-read after schedule failed")
		return job, nil
	}
	s.logger.Info().Str("job_id", job.ID).Str("trigger", job.Trigger.Value).Bool("enabled", job.Enabled).Msg("job scheduled")
	return stored, nil
}

// Pause disables a job and cancels its timer. History and stats are kept,
// and a running invocation finishes normally.
func (s *Service) Pause(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pause %s: %w", jobID, err)
	}

	wasArmed := s.scheduler.Disarm(jobID)
	if err := s.store.SetEnabled(ctx, jobID, false, nil); err != nil {
		if wasArmed && !errors.Is(err, domain.ErrNotFound) {
			s.rearm(ctx, job)
		}
		return fmt.Errorf("pause %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID).Msg("job paused")
	return nil
}

// Resume enables a job and arms it from now. Resuming a job that is
// already enabled and armed leaves its schedule unchanged.
func (s *Service) Resume(ctx context.Context, jobID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return time.Time{}, fmt.Errorf("resume %s: %w", jobID, err)
	}
	if job.Enabled {
		if state, next := s.scheduler.State(jobID); state != scheduler.StateIdle && next != nil {
			return *next, nil
		}
	}

	tr, err := trigger.Parse(job.Trigger)
	if err != nil {
		return time.Time{}, fmt.Errorf("resume %s: %w", jobID, err)
	}
	now := s.clock().UTC()
	next := trigger.NextFireAfter(tr, now, now)

	if err := s.store.SetEnabled(ctx, jobID, true, &next); err != nil {
		return time.Time{}, fmt.Errorf("resume %s: %w", jobID, err)
	}
	job.Enabled = true
	job.NextRunAt = &next
	if _, err := s.scheduler.Arm(ctx, job); err != nil {
		return time.Time{}, fmt.Errorf("resume %s: arm: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID).Time("next_run_at", next).Msg("job resumed")
	return next, nil
}

// Remove cancels a job's timer and deletes its definition. Execution
// history and stats are retained. A running invocation finishes and writes
// its record. Removing an unknown job reports ErrNotFound.
func (s *Service) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, getErr := s.store.GetJob(ctx, jobID)
	wasArmed := s.scheduler.Disarm(jobID)

	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		if wasArmed && getErr == nil && !errors.Is(err, domain.ErrNotFound) {
			s.rearm(ctx, job)
		}
		return fmt.Errorf("remove %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID).Msg("job removed")
	return nil
}

// Reload re-reads a job's stored definition and re-arms or disarms it to match.
func (s *Service) Reload(ctx context.Context, jobID string) (Status, error) {
	s.mu.Lock()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.mu.Unlock()
		return Status{}, fmt.Errorf("reload %s: %w", jobID, err)
	}
	if job.Enabled {
		_, err = s.scheduler.Arm(ctx, job)
	} else {
		s.scheduler.Disarm(jobID)
	}
	s.mu.Unlock()
	if err != nil {
		return Status{}, fmt.Errorf("reload %s: arm: %w", jobID, err)
	}
	return s.GetStatus(ctx, jobID)
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (Status, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Status{}, fmt.Errorf("status %s: %w", jobID, err)
	}
	st, err := s.stats.GetStats(ctx, jobID)
	if err != nil {
		return Status{}, fmt.Errorf("status %s: %w", jobID, err)
	}
	return s.status(job, st), nil
}

// ListJobs returns the status of every stored job, paused ones included.
func (s *Service) ListJobs(ctx context.Context) ([]Status, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]Status, 0, len(jobs))
	for _, job := range jobs {
		st, err := s.stats.GetStats(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, s.status(job, st))
	}
	return out, nil
}

// Executions returns a job's records newest first. Records of removed jobs
// remain readable.
func (s *Service) Executions(ctx context.Context, jobID string, limit, offset int) ([]domain.ExecutionRecord, error) {
	limit, offset = clampPage(limit, offset)
	recs, err := s.store.ListExecutions(ctx, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("executions %s: %w", jobID, err)
	}
	return recs, nil
}

func (s *Service) LatestExecution(ctx context.Context, jobID string) (domain.ExecutionRecord, error) {
	rec, err := s.store.LatestExecution(ctx, jobID)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("latest execution %s: %w", jobID, err)
	}
	return rec, nil
}

func (s *Service) Report(ctx context.Context, jobID string, recent int) (Report, error) {
	status, err := s.GetStatus(ctx, jobID)
	if err != nil {
		return Report{}, err
	}
	recs, err := s.Executions(ctx, jobID, recent, 0)
	if err != nil {
		return Report{}, err
	}
	return Report{Status: status, Recent: recs}, nil
}

func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown stops dispatch and waits for in-flight executions; see
// scheduler.Scheduler.Shutdown.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.scheduler.Shutdown(ctx)
}

func (s *Service) status(job domain.Job, st domain.Stats) Status {
	state, next := s.scheduler.State(job.ID)
	out := Status{Job: job, Stats: st, NextRunAt: next}

	switch {
	case state == scheduler.StateFiring:
		out.State = StateFiring
	case !job.Enabled:
		out.State = StatePaused
		out.NextRunAt = nil
	case state == scheduler.StateScheduled:
		out.State = StateScheduled
	default:
		out.State = StateIdle
		out.NextRunAt = job.NextRunAt
	}
	return out
}

func (s *Service) rearm(ctx context.Context, job domain.Job) {
	if _, err := s.scheduler.Arm(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("restore timer after failed store write")
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
