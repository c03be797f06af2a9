package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/trigger"
)

// Store is the subset of the job store the scheduler needs.
type Store interface {
	LoadActive(ctx context.Context) ([]domain.Job, error)
	UpdateNextRun(ctx context.Context, jobID string, next *time.Time) error
}

// Executor runs one invocation of a job and always returns the record it wrote.
type Executor interface {
	Execute(ctx context.Context, job domain.Job) domain.ExecutionRecord
}

// MetricsSink defines the interface for recording scheduler metrics.
// Implementations must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobsArmedUpdate(count int)
	JobFired()
	OverlapDeferred()
	PersistRetry(success bool)
}

type State string

const (
	StateScheduled State = "scheduled"
	StateFiring    State = "firing"
	StateIdle      State = "" // not armed
)

type Config struct {
	// ShutdownGrace is how long Shutdown waits for in-flight executions
	// before cancelling them.
	ShutdownGrace time.Duration
	// OpTimeout bounds each store call made by the scheduler.
	OpTimeout time.Duration
	// InitialBackoff and MaxBackoff bound store retries.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxSleep caps how long the loop sleeps without re-evaluating.
	MaxSleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = time.Minute
	}
	return c
}

type entry struct {
	job      domain.Job
	trigger  trigger.Trigger
	next     time.Time
	deferred bool
}

type pendingWrite struct {
	next     time.Time
	attempts int
	retryAt  time.Time
}

// Scheduler owns the in-memory timetable of armed jobs. A single loop
// detects due jobs and starts one goroutine per invocation; a job is never
// started again while a previous invocation is still running.
type Scheduler struct {
	config  Config
	store   Store
	exec    Executor
	metrics MetricsSink // optional, nil = disabled
	logger  zerolog.Logger
	clock   func() time.Time

	// persistMu serializes next_run_at writes with Arm/Disarm so a completion
	// never writes a stale value after the job was re-armed or disarmed.
	persistMu sync.Mutex

	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]struct{}
	pending  map[string]*pendingWrite
	stopping bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	running  bool

	wg         sync.WaitGroup
	execCtx    context.Context
	execCancel context.CancelFunc
}

func New(config Config, store Store, exec Executor) *Scheduler {
	execCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:     config.withDefaults(),
		store:      store,
		exec:       exec,
		logger:     log.Logger.With().Str("component", "scheduler").Logger(),
		clock:      time.Now,
		entries:    make(map[string]*entry),
		inflight:   make(map[string]struct{}),
		pending:    make(map[string]*pendingWrite),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		execCtx:    execCtx,
		execCancel: cancel,
	}
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger zerolog.Logger) *Scheduler {
	s.logger = logger.With().Str("component", "scheduler").Logger()
	return s
}

// Recover loads every enabled job and arms it. Store failures are retried
// with exponential backoff until ctx is done. A stored next_run_at in the
// past makes the job due immediately, once.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	backoff := s.config.InitialBackoff
	var jobs []domain.Job
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
		var err error
		jobs, err = s.store.LoadActive(opCtx)
		cancel()
		if err == nil {
			break
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("load active jobs failed, retrying")
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("recover: %w", errors.Join(ctx.Err(), err))
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, s.config.MaxBackoff)
	}

	armed := 0
	for _, job := range jobs {
		if _, err := s.Arm(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("skipping job with invalid trigger")
			continue
		}
		armed++
	}
	s.logger.Info().Int("jobs", armed).Msg("recovered active jobs")
	return armed, nil
}

// Arm adds or replaces the job's timer and returns its next fire time.
// job.NextRunAt is used when set; otherwise the next time is computed from
// now and persisted. An in-flight invocation of the same job is not
// affected, and the new timer will not fire before it completes.
func (s *Scheduler) Arm(ctx context.Context, job domain.Job) (time.Time, error) {
	tr, err := trigger.Parse(job.Trigger)
	if err != nil {
		return time.Time{}, err
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	now := s.clock().UTC()
	var next time.Time
	persist := false
	if job.NextRunAt != nil {
		next = job.NextRunAt.UTC()
	} else {
		next = trigger.NextFireAfter(tr, now, now)
		persist = true
	}

	e := &entry{job: job, trigger: tr, next: next}
	s.mu.Lock()
	s.entries[job.ID] = e
	delete(s.pending, job.ID)
	armed := len(s.entries)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsArmedUpdate(armed)
	}
	if persist {
		s.persistLocked(ctx, job.ID, next)
	}
	s.signal()

	s.logger.Debug().Str("job_id", job.ID).Time("next_run_at", next).Msg("armed")
	return next, nil
}

// Disarm cancels the job's pending timer. It reports whether the job was
// armed. An invocation already running finishes and writes its record.
func (s *Scheduler) Disarm(jobID string) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	_, ok := s.entries[jobID]
	delete(s.entries, jobID)
	delete(s.pending, jobID)
	armed := len(s.entries)
	s.mu.Unlock()

	if ok {
		if s.metrics != nil {
			s.metrics.JobsArmedUpdate(armed)
		}
		s.signal()
		s.logger.Debug().Str("job_id", jobID).Msg("disarmed")
	}
	return ok
}

// State reports whether the job is firing, scheduled or not armed, and
// its pending fire time if armed.
func (s *Scheduler) State(jobID string) (State, *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	if e, ok := s.entries[jobID]; ok {
		t := e.next
		next = &t
	}
	if _, firing := s.inflight[jobID]; firing {
		return StateFiring, next
	}
	if next != nil {
		return StateScheduled, next
	}
	return StateIdle, nil
}

// Armed returns the number of jobs with a pending timer.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run drives the timetable until ctx is done or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.loopDone)

	s.logger.Info().Msg("scheduler started")

	timer := time.NewTimer(s.config.MaxSleep)
	defer timer.Stop()

	for {
		now := s.clock().UTC()
		s.fireDue(now)
		s.retryPending(ctx, now)

		timer.Reset(s.sleepFor(s.clock().UTC()))

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-s.stop:
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// sleepFor returns the time until the earliest due entry or pending write.
func (s *Scheduler) sleepFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.config.MaxSleep
	for id, e := range s.entries {
		if _, busy := s.inflight[id]; busy {
			continue
		}
		if d := e.next.Sub(now); d < wait {
			wait = d
		}
	}
	for _, p := range s.pending {
		if d := p.retryAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue starts every due job that is not already running and returns how many it started.
func (s *Scheduler) fireDue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return 0
	}

	fired := 0
	for id, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		if _, busy := s.inflight[id]; busy {
			if !e.deferred {
				e.deferred = true
				if s.metrics != nil {
					s.metrics.OverlapDeferred()
				}
				s.logger.Debug().Str("job_id", id).Msg("due while firing, deferred")
			}
			continue
		}

		e.deferred = false
		s.inflight[id] = struct{}{}
		s.wg.Add(1)
		go s.execute(e)
		fired++
		if s.metrics != nil {
			s.metrics.JobFired()
		}
	}
	return fired
}

func (s *Scheduler) execute(e *entry) {
	defer s.wg.Done()

	s.logger.Debug().Str("job_id", e.job.ID).Time("scheduled_at", e.next).Msg("firing")
	rec := s.exec.Execute(s.execCtx, e.job)
	s.complete(e, rec)
}

// complete releases the job and, if it is still armed with the same entry,
// computes and persists its next fire time from the completion time.
func (s *Scheduler) complete(e *entry, rec domain.ExecutionRecord) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	now := s.clock().UTC()

	s.mu.Lock()
	delete(s.inflight, e.job.ID)
	current := s.entries[e.job.ID] == e
	if current {
		e.next = trigger.NextFireAfter(e.trigger, now, now)
	}
	next := e.next
	s.mu.Unlock()

	s.signal()

	s.logger.Debug().
		Str("job_id", e.job.ID).
		Str("execution_id", rec.ID.String()).
		Str("severity", string(rec.Severity)).
		Bool("rescheduled", current).
		Msg("completed")

	if current {
		s.persistLocked(context.Background(), e.job.ID, next)
	}
}

// persistLocked writes next_run_at; on failure the write is queued for the
// loop to retry with backoff. Caller holds persistMu.
func (s *Scheduler) persistLocked(ctx context.Context, jobID string, next time.Time) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.OpTimeout)
	err := s.store.UpdateNextRun(opCtx, jobID, &next)
	cancel()
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug().Str("job_id", jobID).Msg("job no longer stored, dropping next_run_at write")
		return
	}

	s.logger.Warn().Err(err).Str("job_id", jobID).Msg("persist next_run_at failed, will retry")
	s.mu.Lock()
	s.pending[jobID] = &pendingWrite{
		next:     next,
		attempts: 1,
		retryAt:  s.clock().UTC().Add(s.config.InitialBackoff),
	}
	s.mu.Unlock()
}

// retryPending retries queued next_run_at writes whose backoff has elapsed.
func (s *Scheduler) retryPending(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []string
	for id, p := range s.pending {
		if !p.retryAt.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		s.retryOne(ctx, id)
	}
}

func (s *Scheduler) retryOne(ctx context.Context, jobID string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	p, ok := s.pending[jobID]
	e, armed := s.entries[jobID]
	if ok && armed {
		p.next = e.next
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if !armed {
		s.mu.Lock()
		delete(s.pending, jobID)
		s.mu.Unlock()
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	next := p.next
	err := s.store.UpdateNextRun(opCtx, jobID, &next)
	cancel()

	if s.metrics != nil {
		s.metrics.PersistRetry(err == nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		delete(s.pending, jobID)
		return
	}
	p.attempts++
	backoff := s.config.InitialBackoff
	for i := 1; i < p.attempts; i++ {
		backoff = nextBackoff(backoff, s.config.MaxBackoff)
	}
	p.retryAt = s.clock().UTC().Add(backoff)
	s.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", p.attempts).Dur("backoff", backoff).Msg("persist next_run_at retry failed")
}

// Shutdown stops dispatching new invocations, waits up to the grace period
// for in-flight ones, then cancels them and waits for their records. No job
// is firing when it returns.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	running := s.running
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if running {
		<-s.loopDone
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.config.ShutdownGrace)
	defer grace.Stop()

	var err error
	select {
	case <-done:
		s.execCancel()
		return nil
	case <-grace.C:
		s.logger.Warn().Dur("grace", s.config.ShutdownGrace).Msg("grace period elapsed, cancelling in-flight executions")
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn().Err(err).Msg("shutdown context done, cancelling in-flight executions")
	}

	s.execCancel()
	<-done
	return err
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}
