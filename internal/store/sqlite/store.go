// Package sqlite is the single-node job store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/store"
)

//go:embed migrations.sql
var migrations string

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

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

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return classify("migrate", err)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

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
		nullMillis(job.NextRunAt),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
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

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	return s.execOne(ctx, "delete job", queryDeleteJob, jobID)
}

func (s *Store) UpdateNextRun(ctx context.Context, jobID string, next *time.Time) error {
	return s.execOne(ctx, "update next run", queryUpdateNextRun, nullMillis(next), s.clock().UnixMilli(), jobID)
}

func (s *Store) SetEnabled(ctx context.Context, jobID string, enabled bool, next *time.Time) error {
	return s.execOne(ctx, "set enabled", querySetEnabled, enabled, nullMillis(next), s.clock().UnixMilli(), jobID)
}

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
		rec.ID.String(),
		rec.JobID,
		rec.StartedAt.UnixMilli(),
		rec.CompletedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
		string(rec.Status),
		string(rec.Severity),
		rec.OutputSummary,
		nullStr(rec.ErrorDetail),
	)
	return classify("insert execution", err)
}

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

func (s *Store) IncrementStats(ctx context.Context, jobID string, success bool, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var inc int64
	if success {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx, queryIncrementStats, jobID, inc, at.UnixMilli())
	return classify("increment stats", err)
}

func (s *Store) GetStats(ctx context.Context, jobID string) (domain.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	st := domain.Stats{JobID: jobID}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, queryGetStats, jobID).Scan(&st.TotalExecutions, &st.SuccessCount, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return domain.Stats{}, classify("get stats", err)
	}
	st.LastExecutionAt = fromMillis(last)
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var job domain.Job
	var triggerType string
	var timeoutMs, createdMs, updatedMs int64
	var next sql.NullInt64

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
		&createdMs,
		&updatedMs,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Trigger.Type = domain.TriggerType(triggerType)
	job.Task.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.NextRunAt = fromMillis(next)
	job.CreatedAt = time.UnixMilli(createdMs).UTC()
	job.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return job, nil
}

func scanExecution(row scanner) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status, severity string
	var startedMs, completedMs, durationMs int64
	var detail sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&startedMs,
		&completedMs,
		&durationMs,
		&status,
		&severity,
		&rec.OutputSummary,
		&detail,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.CompletedAt = time.UnixMilli(completedMs).UTC()
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.Status = domain.ExecutionStatus(status)
	rec.Severity = domain.Severity(severity)
	rec.ErrorDetail = detail.String
	return rec, nil
}

func classify(op string, err error) error {
	return store.Classify(op, err, isConnectionError)
}

// isConnectionError treats a locked or unopenable database as unavailable.
func isConnectionError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return true
	}
	return false
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
