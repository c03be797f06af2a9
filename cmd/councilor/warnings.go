package main

import (
	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/config"
)

// logConfigWarnings logs operator-facing warnings for configurations that
// are valid but likely unintended.
func logConfigWarnings(logger zerolog.Logger, cfg config.Config) {
	if cfg.StoreDriver == "sqlite" {
		logger.Info().Str("path", cfg.SQLitePath).
			Msg("STORE_DRIVER=sqlite: single process only, do not share the file between instances")
	}

	if !cfg.MetricsEnabled {
		logger.Warn().Msg("METRICS_ENABLED=false: overlaps, retries and notification failures are only visible in logs")
	}

	if cfg.NotifyWebhookURL == "" {
		logger.Info().Msg("NOTIFY_WEBHOOK_URL not set: notifications go to the log channel only")
	} else if cfg.NotifyWebhookSecret == "" {
		logger.Warn().Msg("NOTIFY_WEBHOOK_SECRET not set: webhook notifications are unsigned")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Warn().Msg("CIRCUIT_BREAKER_THRESHOLD=0: a failing notification channel is retried on every execution")
	}

	if cfg.NotifyRatePerSec == 0 {
		logger.Warn().Msg("NOTIFY_RATE_PER_SEC=0: notifications are not rate limited")
	}

	if cfg.ShutdownGrace > 0 && cfg.DefaultJobTimeout > 0 && cfg.ShutdownGrace < cfg.DefaultJobTimeout {
		logger.Info().
			Dur("shutdown_grace", cfg.ShutdownGrace).
			Dur("default_job_timeout", cfg.DefaultJobTimeout).
			Msg("SHUTDOWN_GRACE is shorter than DEFAULT_JOB_TIMEOUT: long executions are cancelled on shutdown")
	}
}
