package executor

import (
	"testing"

	"github.com/djlord-it/councilor/internal/domain"
)

func TestClassifier_DefaultRules(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   domain.Severity
	}{
		{"critical failure", "Critical failure detected", domain.SeverityError},
		{"warning latency", "Warning: high latency", domain.SeverityWarning},
		{"all passed", "All checks passed", domain.SeveritySuccess},
		{"empty", "", domain.SeveritySuccess},
		{"whitespace", "  \n\t", domain.SeveritySuccess},
		{"upper case error", "FATAL: disk full", domain.SeverityError},
		{"mixed case warning", "DePrEcAtEd API in use", domain.SeverityWarning},
		{"portuguese error", "Falha na conexão com o banco", domain.SeverityError},
		{"portuguese accented upper", "ESTADO CRÍTICO", domain.SeverityError},
		{"portuguese warning", "Atenção: certificado expira em 3 dias", domain.SeverityWarning},
		{"vulnerab prefix", "2 vulnerabilities found", domain.SeverityWarning},
		{"error beats warning", "warning: retry failed", domain.SeverityError},
		{"substring match", "ExceptionHandler registered", domain.SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultClassifier.Classify(tt.output); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestClassifier_CustomRulesOrder(t *testing.T) {
	c := NewClassifier([]Rule{
		{Severity: domain.SeverityWarning, Keywords: []string{"Slow"}},
		{Severity: domain.SeverityError, Keywords: []string{"down", " "}},
	})

	if got := c.Classify("service slow and down"); got != domain.SeverityWarning {
		t.Errorf("first matching rule should win, got %q", got)
	}
	if got := c.Classify("service DOWN"); got != domain.SeverityError {
		t.Errorf("got %q, want error", got)
	}
	if got := c.Classify("nominal"); got != domain.SeveritySuccess {
		t.Errorf("blank keyword must not match everything, got %q", got)
	}
}

func TestClassifier_EmptyRules(t *testing.T) {
	c := NewClassifier([]Rule{})
	if got := c.Classify("fatal error"); got != domain.SeveritySuccess {
		t.Errorf("no rules should classify everything as success, got %q", got)
	}
}
