package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all configuration for councilor.
// Values are loaded from environment variables; see printUsage() in cmd/councilor.
type Config struct {
	// StoreDriver: "postgres" or "sqlite".
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	ConductorURL string `json:"conductor_url"`

	DefaultJobTimeout    time.Duration `json:"-"`
	DefaultJobTimeoutStr string        `json:"default_job_timeout"`
	ShutdownGrace        time.Duration `json:"-"`
	ShutdownGraceStr     string        `json:"shutdown_grace"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	NotifyWebhookURL        string        `json:"notify_webhook_url,omitempty"`
	NotifyWebhookSecret     string        `json:"notify_webhook_secret,omitempty"`
	NotifyWebhookTimeout    time.Duration `json:"-"`
	NotifyWebhookTimeoutStr string        `json:"notify_webhook_timeout"`
	// NotifyRatePerSec: 0 disables rate limiting.
	NotifyRatePerSec float64 `json:"notify_rate_per_sec"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	OutputSummaryMax   int `json:"output_summary_max"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`
	// EventBusEmitTimeout: 0 drops events immediately when the buffer is full.
	EventBusEmitTimeout    time.Duration `json:"-"`
	EventBusEmitTimeoutStr string        `json:"eventbus_emit_timeout"`

	StatsMirrorRetention    time.Duration `json:"-"`
	StatsMirrorRetentionStr string        `json:"stats_mirror_retention"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load reads configuration from environment variables with defaults.
// Call LoadFiles first to apply .env and CONFIG_FILE values.
func Load() Config {
	cfg := Config{
		StoreDriver:               os.Getenv("STORE_DRIVER"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		SQLitePath:                os.Getenv("SQLITE_PATH"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		ConductorURL:              os.Getenv("CONDUCTOR_URL"),
		DefaultJobTimeoutStr:      os.Getenv("DEFAULT_JOB_TIMEOUT"),
		ShutdownGraceStr:          os.Getenv("SHUTDOWN_GRACE"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		NotifyWebhookURL:          os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:       os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		NotifyWebhookTimeoutStr:   os.Getenv("NOTIFY_WEBHOOK_TIMEOUT"),
		EventBusEmitTimeoutStr:    os.Getenv("EVENTBUS_EMIT_TIMEOUT"),
		StatsMirrorRetentionStr:   os.Getenv("STATS_MIRROR_RETENTION"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LogLevel:                  os.Getenv("LOG_LEVEL"),
		LogFormat:                 os.Getenv("LOG_FORMAT"),
	}

	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.MetricsPort = positiveInt("METRICS_PORT", 9090)
	cfg.OutputSummaryMax = positiveInt("OUTPUT_SUMMARY_MAX", 2000)
	cfg.EventBusBufferSize = positiveInt("EVENTBUS_BUFFER_SIZE", 100)

	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Warn().Str("component", "config").Str("value", s).Msg("invalid CIRCUIT_BREAKER_THRESHOLD, using default 5")
		}
	}

	cfg.NotifyRatePerSec = 1
	if s := os.Getenv("NOTIFY_RATE_PER_SEC"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
			cfg.NotifyRatePerSec = f
		} else {
			log.Warn().Str("component", "config").Str("value", s).Msg("invalid NOTIFY_RATE_PER_SEC, using default 1")
		}
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/councilor.db"
	}
	// PORT is honored as a fallback for platforms that inject it.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.ConductorURL == "" {
		cfg.ConductorURL = "http://localhost:8000"
	}
	if cfg.DefaultJobTimeoutStr == "" {
		cfg.DefaultJobTimeoutStr = "10m"
	}
	if cfg.ShutdownGraceStr == "" {
		cfg.ShutdownGraceStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.NotifyWebhookTimeoutStr == "" {
		cfg.NotifyWebhookTimeoutStr = "10s"
	}
	if cfg.EventBusEmitTimeoutStr == "" {
		cfg.EventBusEmitTimeoutStr = "0s"
	}
	if cfg.StatsMirrorRetentionStr == "" {
		cfg.StatsMirrorRetentionStr = "168h"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range []struct {
		src string
		dst *time.Duration
	}{
		{cfg.DefaultJobTimeoutStr, &cfg.DefaultJobTimeout},
		{cfg.ShutdownGraceStr, &cfg.ShutdownGrace},
		{cfg.DBOpTimeoutStr, &cfg.DBOpTimeout},
		{cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime},
		{cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout},
		{cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown},
		{cfg.NotifyWebhookTimeoutStr, &cfg.NotifyWebhookTimeout},
		{cfg.EventBusEmitTimeoutStr, &cfg.EventBusEmitTimeout},
		{cfg.StatsMirrorRetentionStr, &cfg.StatsMirrorRetention},
	} {
		if v, err := time.ParseDuration(d.src); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

// positiveInt reads key as a positive integer, falling back to def.
func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Warn().Str("component", "config").Str("key", key).Str("value", s).Int("default", def).
			Msg("invalid value (must be a positive integer), using default")
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.NotifyWebhookSecret = maskSecret(c.NotifyWebhookSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
