package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/testutil"
)

type mockBackend struct {
	mu     sync.Mutex
	output string
	err    error
	hang   bool // block until ctx is done
	tasks  []domain.TaskSpec
}

func (b *mockBackend) Invoke(ctx context.Context, task domain.TaskSpec) (string, error) {
	b.mu.Lock()
	b.tasks = append(b.tasks, task)
	output, err, hang := b.output, b.err, b.hang
	b.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return output, err
}

type mockStore struct {
	mu       sync.Mutex
	records  []domain.ExecutionRecord
	failures int
	failErr  error
	ctxErrs  []error
}

func (s *mockStore) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failures > 0 {
		s.failures--
		return s.failErr
	}
	s.records = append(s.records, rec)
	return nil
}

type statsCall struct {
	jobID   string
	success bool
	at      time.Time
}

type mockStats struct {
	mu    sync.Mutex
	calls []statsCall
}

func (m *mockStats) Update(ctx context.Context, jobID string, success bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, statsCall{jobID, success, at})
}

type mockNotifier struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

func (m *mockNotifier) Evaluate(ctx context.Context, job domain.Job, rec domain.ExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

type mockEvents struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (m *mockEvents) Emit(ctx context.Context, event domain.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEvents) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	backend  *mockBackend
	store    *mockStore
	stats    *mockStats
	notifier *mockNotifier
	events   *mockEvents
	clock    *testutil.FakeClock
	exec     *Executor
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		backend:  &mockBackend{},
		store:    &mockStore{},
		stats:    &mockStats{},
		notifier: &mockNotifier{},
		events:   &mockEvents{},
		clock:    testutil.NewFakeClock(time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)),
	}
	f.exec = New(cfg, f.backend, f.store).
		WithStats(f.stats).
		WithNotifier(f.notifier).
		WithEvents(f.events).
		WithLogger(zerolog.Nop())
	f.exec.clock = f.clock.Now
	return f
}

func TestExecute_SuccessWritesOneRecord(t *testing.T) {
	f := newFixture(Config{})
	f.backend.output = "All checks passed"
	job := testutil.IntervalJob("agent-1", "30m")

	rec := f.exec.Execute(context.Background(), job)

	if rec.Status != domain.ExecutionStatusCompleted || rec.Severity != domain.SeveritySuccess {
		t.Errorf("record = %s/%s, want completed/success", rec.Status, rec.Severity)
	}
	if rec.OutputSummary != "All checks passed" {
		t.Errorf("OutputSummary = %q", rec.OutputSummary)
	}
	if len(f.store.records) != 1 || f.store.records[0].ID != rec.ID {
		t.Fatalf("expected exactly one stored record matching the returned one, got %d", len(f.store.records))
	}
	if len(f.stats.calls) != 1 || !f.stats.calls[0].success || f.stats.calls[0].jobID != "agent-1" {
		t.Errorf("stats calls = %+v", f.stats.calls)
	}
	if len(f.notifier.records) != 1 {
		t.Errorf("notifier evaluated %d times, want 1", len(f.notifier.records))
	}

	got := f.events.types()
	if len(got) != 2 || got[0] != domain.EventStarted || got[1] != domain.EventCompleted {
		t.Errorf("events = %v, want [started completed]", got)
	}
}

func TestExecute_SeverityFromOutput(t *testing.T) {
	tests := []struct {
		output      string
		want        domain.Severity
		wantSuccess bool
	}{
		{"Critical failure detected", domain.SeverityError, false},
		{"Warning: high latency", domain.SeverityWarning, false},
		{"All checks passed", domain.SeveritySuccess, true},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			f := newFixture(Config{})
			f.backend.output = tt.output

			rec := f.exec.Execute(context.Background(), testutil.IntervalJob("a", "30m"))

			if rec.Status != domain.ExecutionStatusCompleted {
				t.Errorf("Status = %s, want completed", rec.Status)
			}
			if rec.Severity != tt.want {
				t.Errorf("Severity = %s, want %s", rec.Severity, tt.want)
			}
			if f.stats.calls[0].success != tt.wantSuccess {
				t.Errorf("stats success = %v, want %v", f.stats.calls[0].success, tt.wantSuccess)
			}
		})
	}
}

func TestExecute_BackendFailureIsRecorded(t *testing.T) {
	f := newFixture(Config{})
	f.backend.err = errors.New("conductor: 502 bad gateway")

	rec := f.exec.Execute(context.Background(), testutil.IntervalJob("a", "30m"))

	if rec.Status != domain.ExecutionStatusError || rec.Severity != domain.SeverityError {
		t.Errorf("record = %s/%s, want error/error", rec.Status, rec.Severity)
	}
	if !strings.Contains(rec.ErrorDetail, "502 bad gateway") {
		t.Errorf("ErrorDetail = %q", rec.ErrorDetail)
	}
	if len(f.store.records) != 1 {
		t.Errorf("stored %d records, want 1", len(f.store.records))
	}
	if f.stats.calls[0].success {
		t.Error("failed run must not count as success")
	}
	got := f.events.types()
	if got[len(got)-1] != domain.EventError {
		t.Errorf("last event = %s, want %s", got[len(got)-1], domain.EventError)
	}
}

func TestExecute_TimeoutIsRecorded(t *testing.T) {
	f := newFixture(Config{})
	f.backend.hang = true
	job := testutil.IntervalJob("a", "30m")
	job.Task.Timeout = 20 * time.Millisecond

	rec := f.exec.Execute(context.Background(), job)

	if rec.Status != domain.ExecutionStatusError {
		t.Fatalf("Status = %s, want error", rec.Status)
	}
	if !strings.Contains(rec.ErrorDetail, "timed out after 20ms") {
		t.Errorf("ErrorDetail = %q, want timeout message", rec.ErrorDetail)
	}
}

func TestExecute_DefaultTimeoutApplied(t *testing.T) {
	f := newFixture(Config{DefaultTimeout: 15 * time.Millisecond})
	f.backend.hang = true
	job := testutil.IntervalJob("a", "30m")
	job.Task.Timeout = 0

	done := make(chan domain.ExecutionRecord, 1)
	go func() { done <- f.exec.Execute(context.Background(), job) }()

	select {
	case rec := <-done:
		if rec.Status != domain.ExecutionStatusError {
			t.Errorf("Status = %s, want error", rec.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("default timeout was not applied")
	}
}

func TestExecute_CancelledStillWritesRecord(t *testing.T) {
	f := newFixture(Config{})
	f.backend.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rec := f.exec.Execute(ctx, testutil.IntervalJob("a", "30m"))

	if rec.Status != domain.ExecutionStatusError {
		t.Errorf("Status = %s, want error", rec.Status)
	}
	if strings.Contains(rec.ErrorDetail, "timed out") {
		t.Errorf("cancellation should not be reported as timeout: %q", rec.ErrorDetail)
	}
	if len(f.store.records) != 1 {
		t.Fatalf("stored %d records, want 1", len(f.store.records))
	}
	if f.store.ctxErrs[0] != nil {
		t.Errorf("record written with cancelled context: %v", f.store.ctxErrs[0])
	}
}

func TestExecute_RetriesUnavailableStore(t *testing.T) {
	f := newFixture(Config{RecordBackoff: time.Millisecond})
	f.store.failures = 2
	f.store.failErr = domain.ErrStoreUnavailable

	f.exec.Execute(context.Background(), testutil.IntervalJob("a", "30m"))

	if len(f.store.records) != 1 {
		t.Errorf("stored %d records, want 1 after retries", len(f.store.records))
	}
	if len(f.store.ctxErrs) != 3 {
		t.Errorf("insert attempts = %d, want 3", len(f.store.ctxErrs))
	}
	if len(f.stats.calls) != 1 {
		t.Errorf("stats updated %d times, want 1", len(f.stats.calls))
	}
}

func TestExecute_DoesNotRetryOtherStoreErrors(t *testing.T) {
	f := newFixture(Config{RecordBackoff: time.Millisecond})
	f.store.failures = 1
	f.store.failErr = errors.New("check constraint")

	f.exec.Execute(context.Background(), testutil.IntervalJob("a", "30m"))

	if len(f.store.ctxErrs) != 1 {
		t.Errorf("insert attempts = %d, want 1", len(f.store.ctxErrs))
	}
}

func TestExecute_DurationFromClock(t *testing.T) {
	f := newFixture(Config{})
	f.exec.backend = backendFunc(func(ctx context.Context, task domain.TaskSpec) (string, error) {
		f.clock.Advance(90 * time.Second)
		return "ok", nil
	})

	rec := f.exec.Execute(context.Background(), testutil.IntervalJob("a", "30m"))

	if rec.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", rec.Duration)
	}
	if !rec.CompletedAt.Equal(rec.StartedAt.Add(90 * time.Second)) {
		t.Errorf("CompletedAt = %v, StartedAt = %v", rec.CompletedAt, rec.StartedAt)
	}
}

type backendFunc func(ctx context.Context, task domain.TaskSpec) (string, error)

func (f backendFunc) Invoke(ctx context.Context, task domain.TaskSpec) (string, error) {
	return f(ctx, task)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "  ok \n", 10, "ok"},
		{"exact", "abcde", 5, "abcde"},
		{"truncated", "abcdefghij", 8, "abcde..."},
		{"unicode", "atenção atenção", 8, "atenç..."},
		{"tiny limit", "abcdef", 2, "ab"},
		{"no limit", "abcdef", 0, "abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.in, tt.limit); got != tt.want {
				t.Errorf("Summarize(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}
