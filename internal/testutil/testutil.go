// Package testutil provides shared test helpers for councilor.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/councilor/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Eventually polls cond every 5ms until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// IntervalJob returns an enabled job firing every value (e.g. "30m").
func IntervalJob(id, value string) domain.Job {
	return domain.Job{
		ID:      id,
		Name:    "job " + id,
		Trigger: domain.TriggerSpec{Type: domain.TriggerInterval, Value: value},
		Task: domain.TaskSpec{
			TargetID: id,
			Payload:  "run checks",
			Timeout:  time.Minute,
		},
		Notification: domain.NotificationPolicy{OnError: true, Channel: "log"},
		Enabled:      true,
	}
}

// CronJob returns an enabled job on a 5-field cron expression in UTC.
func CronJob(id, expr string) domain.Job {
	job := IntervalJob(id, "1m")
	job.Trigger = domain.TriggerSpec{Type: domain.TriggerCron, Value: expr}
	return job
}
