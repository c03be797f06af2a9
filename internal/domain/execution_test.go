package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestExecutionStatus_Values(t *testing.T) {
	tests := []struct {
		status ExecutionStatus
		want   string
	}{
		{ExecutionStatusCompleted, "completed"},
		{ExecutionStatusError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("ExecutionStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestExecutionRecord_Succeeded(t *testing.T) {
	tests := []struct {
		name     string
		status   ExecutionStatus
		severity Severity
		want     bool
	}{
		{"completed success", ExecutionStatusCompleted, SeveritySuccess, true},
		{"completed warning", ExecutionStatusCompleted, SeverityWarning, false},
		{"completed error", ExecutionStatusCompleted, SeverityError, false},
		{"backend error", ExecutionStatusError, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ExecutionRecord{Status: tt.status, Severity: tt.severity}
			if got := rec.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStats_SuccessRate(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		success int64
		want    float64
	}{
		{"no executions", 0, 0, 0},
		{"two of three", 3, 2, 66.7},
		{"one of three", 3, 1, 33.3},
		{"all", 7, 7, 100},
		{"none", 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Stats{TotalExecutions: tt.total, SuccessCount: tt.success}
			if got := s.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStats_SuccessRate_NoDriftOverManyUpdates(t *testing.T) {
	s := Stats{}
	for i := 0; i < 1000; i++ {
		s.TotalExecutions++
		if i%3 != 1 {
			s.SuccessCount++
		}
	}
	if s.SuccessCount != 667 {
		t.Fatalf("SuccessCount = %d, want 667", s.SuccessCount)
	}
	if got := s.SuccessRate(); got != 66.7 {
		t.Errorf("SuccessRate() = %v, want 66.7", got)
	}
}

func TestErrors_Wrapping(t *testing.T) {
	err := fmt.Errorf("get job x: %w", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped ErrNotFound to match")
	}

	verr := fmt.Errorf("schedule: %w", &ValidationError{Field: "trigger", Message: "bad"})
	if !IsValidation(verr) {
		t.Error("expected IsValidation to see wrapped ValidationError")
	}
	if IsValidation(ErrNotFound) {
		t.Error("ErrNotFound is not a validation error")
	}

	cause := errors.New("connection reset")
	eerr := &ExecutionError{JobID: "agent-1", Err: cause}
	if !errors.Is(eerr, cause) {
		t.Error("ExecutionError should unwrap to its cause")
	}
}

func TestJob_DisplayName(t *testing.T) {
	if got := (Job{ID: "agent-1"}).DisplayName(); got != "agent-1" {
		t.Errorf("DisplayName() = %q, want agent-1", got)
	}
	if got := (Job{ID: "agent-1", Name: "Dra. Testa"}).DisplayName(); got != "Dra. Testa" {
		t.Errorf("DisplayName() = %q, want Dra. Testa", got)
	}
}
