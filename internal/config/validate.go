package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_DRIVER is postgres")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE_DRIVER is sqlite")
		}
	default:
		add("STORE_DRIVER", "must be 'postgres' or 'sqlite', got %q", cfg.StoreDriver)
	}

	for _, d := range []struct{ field, value string }{
		{"DEFAULT_JOB_TIMEOUT", cfg.DefaultJobTimeoutStr},
		{"SHUTDOWN_GRACE", cfg.ShutdownGraceStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"NOTIFY_WEBHOOK_TIMEOUT", cfg.NotifyWebhookTimeoutStr},
		{"STATS_MIRROR_RETENTION", cfg.StatsMirrorRetentionStr},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			add(d.field, "invalid duration: %v", err)
		} else if v <= 0 {
			add(d.field, "must be positive")
		}
	}

	if cfg.EventBusEmitTimeoutStr != "" {
		if v, err := time.ParseDuration(cfg.EventBusEmitTimeoutStr); err != nil {
			add("EVENTBUS_EMIT_TIMEOUT", "invalid duration: %v", err)
		} else if v < 0 {
			add("EVENTBUS_EMIT_TIMEOUT", "must not be negative")
		}
	}

	if err := validateHTTPURL(cfg.ConductorURL); err != nil {
		add("CONDUCTOR_URL", "%v", err)
	}
	if cfg.NotifyWebhookURL != "" {
		if err := validateHTTPURL(cfg.NotifyWebhookURL); err != nil {
			add("NOTIFY_WEBHOOK_URL", "%v", err)
		}
	}

	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		add("METRICS_PORT", "must be between 1 and 65535, got %d", cfg.MetricsPort)
	}
	if cfg.NotifyRatePerSec < 0 {
		add("NOTIFY_RATE_PER_SEC", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "%v", err)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
