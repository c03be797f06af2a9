// Package store holds what the PostgreSQL and SQLite job stores share:
// definition validation and translation of driver errors into domain kinds.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/trigger"
)

const maxIDLength = 255

// ValidateJob rejects definitions that must never be persisted.
func ValidateJob(job domain.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return &domain.ValidationError{Field: "id", Message: "required"}
	}
	if len(job.ID) > maxIDLength {
		return &domain.ValidationError{Field: "id", Message: fmt.Sprintf("must be at most %d characters", maxIDLength)}
	}
	if strings.TrimSpace(job.Task.TargetID) == "" {
		return &domain.ValidationError{Field: "task.target_id", Message: "required"}
	}
	if job.Task.Timeout < 0 {
		return &domain.ValidationError{Field: "task.timeout", Message: "must not be negative"}
	}
	if _, err := trigger.Parse(job.Trigger); err != nil {
		return err
	}
	return nil
}

// Classify wraps err for op. sql.ErrNoRows becomes domain.ErrNotFound and
// connection-level failures become domain.ErrStoreUnavailable. connErr lets a
// driver add its own connection error codes.
func Classify(op string, err error, connErr func(error) bool) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrStoreUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case IsConnectionError(err) || (connErr != nil && connErr(err)):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// IsConnectionError reports driver-independent signs that the database is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
