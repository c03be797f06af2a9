package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/store"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL job store.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// WithOpTimeout bounds every statement issued by the store.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	return classify("migrate", err)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertJob validates and durably writes a job definition. It returns only
// after the commit; created_at of an existing row is preserved.
func (s *Store) UpsertJob(ctx context.Context, job domain.Job) error {
	if err := store.ValidateJob(job); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertJob,
		job.ID,
		job.Name,
		string(job.Trigger.Type),
		job.Trigger.Value,
		job.Trigger.Timezone,
		job.Task.TargetID,
		job.Task.Name,
		job.Task.Payload,
		job.Task.Timeout.Milliseconds(),
		job.Notification.OnSuccess,
		job.Notification.OnWarning,
		job.Notification.OnError,
		job.Notification.Channel,
		job.Enabled,
		nullTime(job.NextRunAt),
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return classify("upsert job", err)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobID))
	if err != nil {
		return domain.Job{}, classify("get job", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.queryJobs(ctx, "list jobs", queryListJobs)
}

// LoadActive returns every enabled job.
func (s *Store) LoadActive(ctx context.Context) ([]domain.Job, error) {
	return s.queryJobs(ctx, "load active jobs", queryLoadActive)
}

func (s *Store) queryJobs(ctx context.Context, op, query string) ([]domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

// DeleteJob removes the job definition. Execution records and stats are kept.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	return s.execOne(ctx, "delete job", queryDeleteJob, jobID)
}

func (s *Store) UpdateNextRun(ctx context.Context, jobID string, next *time.Time) error {
	return s.execOne(ctx, "update next run", queryUpdateNextRun, jobID, nullTime(next), s.clock().UTC())
}

func (s *Store) SetEnabled(ctx context.Context, jobID string, enabled bool, next *time.Time) error {
	return s.execOne(ctx, "set enabled", querySetEnabled, jobID, enabled, nullTime(next), s.clock().UTC())
}

// execOne runs a single-row statement and reports domain.ErrNotFound when no row matched.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return classify(op, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		rec.ID,
		rec.JobID,
		rec.StartedAt.UTC(),
		rec.CompletedAt.UTC(),
		rec.Duration.Milliseconds(),
		string(rec.Status),
		string(rec.Severity),
		rec.OutputSummary,
		nullString(rec.ErrorDetail),
	)
	return classify("insert execution", err)
}

// ListExecutions returns a job's records newest first.
func (s *Store) ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListExecutions, jobID, limit, offset)
	if err != nil {
		return nil, classify("list executions", err)
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, classify("list executions", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list executions", err)
	}
	return result, nil
}

func (s *Store) LatestExecution(ctx context.Context, jobID string) (domain.ExecutionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := scanExecution(s.db.QueryRowContext(ctx, queryLatestExecution, jobID))
	if err != nil {
		return domain.ExecutionRecord{}, classify("latest execution", err)
	}
	return rec, nil
}

// IncrementStats counts one execution for jobID.
func (s *Store) IncrementStats(ctx context.Context, jobID string, success bool, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var inc int64
	if success {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx, queryIncrementStats, jobID, inc, at.UTC())
	return classify("increment stats", err)
}

// GetStats returns zero counters for a job that has never run.
func (s *Store) GetStats(ctx context.Context, jobID string) (domain.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	st := domain.Stats{JobID: jobID}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetStats, jobID).Scan(&st.TotalExecutions, &st.SuccessCount, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return domain.Stats{}, classify("get stats", err)
	}
	st.LastExecutionAt = timePtr(last)
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var job domain.Job
	var triggerType string
	var timeoutMs int64
	var next sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.Name,
		&triggerType,
		&job.Trigger.Value,
		&job.Trigger.Timezone,
		&job.Task.TargetID,
		&job.Task.Name,
		&job.Task.Payload,
		&timeoutMs,
		&job.Notification.OnSuccess,
		&job.Notification.OnWarning,
		&job.Notification.OnError,
		&job.Notification.Channel,
		&job.Enabled,
		&next,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Trigger.Type = domain.TriggerType(triggerType)
	job.Task.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.NextRunAt = timePtr(next)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func scanExecution(row scanner) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status, severity string
	var durationMs int64
	var detail sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.StartedAt,
		&rec.CompletedAt,
		&durationMs,
		&status,
		&severity,
		&rec.OutputSummary,
		&detail,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.ExecutionStatus(status)
	rec.Severity = domain.Severity(severity)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.StartedAt = rec.StartedAt.UTC()
	rec.CompletedAt = rec.CompletedAt.UTC()
	rec.ErrorDetail = detail.String
	return rec, nil
}

func classify(op string, err error) error {
	return store.Classify(op, err, isConnectionError)
}

// isConnectionError matches SQLSTATE class 08 (connection exception) and
// the operator-intervention codes sent when the server goes away.
func isConnectionError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "57P01", "57P02", "57P03":
		return true
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
