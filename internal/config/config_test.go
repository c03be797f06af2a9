package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "HTTP_ADDR", "PORT",
	"CONDUCTOR_URL", "DEFAULT_JOB_TIMEOUT", "SHUTDOWN_GRACE", "DB_OP_TIMEOUT",
	"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "HTTP_SHUTDOWN_TIMEOUT",
	"METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT", "NOTIFY_WEBHOOK_URL",
	"NOTIFY_WEBHOOK_SECRET", "NOTIFY_RATE_PER_SEC", "CIRCUIT_BREAKER_THRESHOLD",
	"CIRCUIT_BREAKER_COOLDOWN", "OUTPUT_SUMMARY_MAX", "EVENTBUS_BUFFER_SIZE",
	"NOTIFY_WEBHOOK_TIMEOUT", "EVENTBUS_EMIT_TIMEOUT", "STATS_MIRROR_RETENTION",
	"LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.StoreDriver != "sqlite" || cfg.SQLitePath != "data/councilor.db" {
		t.Errorf("store = %s %s", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DefaultJobTimeout != 10*time.Minute {
		t.Errorf("DefaultJobTimeout = %v, want 10m", cfg.DefaultJobTimeout)
	}
	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("ShutdownGrace = %v, want 30s", cfg.ShutdownGrace)
	}
	if cfg.DBOpTimeout != 5*time.Second {
		t.Errorf("DBOpTimeout = %v, want 5s", cfg.DBOpTimeout)
	}
	if cfg.DBMaxOpenConns != 25 || cfg.DBMaxIdleConns != 5 {
		t.Errorf("conns = %d/%d, want 25/5", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime != 30*time.Minute {
		t.Errorf("DBConnMaxLifetime = %v", cfg.DBConnMaxLifetime)
	}
	if cfg.HTTPShutdownTimeout != 10*time.Second {
		t.Errorf("HTTPShutdownTimeout = %v", cfg.HTTPShutdownTimeout)
	}
	if cfg.MetricsEnabled || cfg.MetricsPath != "/metrics" || cfg.MetricsPort != 9090 {
		t.Errorf("metrics = %v %s %d", cfg.MetricsEnabled, cfg.MetricsPath, cfg.MetricsPort)
	}
	if cfg.NotifyRatePerSec != 1 {
		t.Errorf("NotifyRatePerSec = %v", cfg.NotifyRatePerSec)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerCooldown != 2*time.Minute {
		t.Errorf("breaker = %d %v", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if cfg.OutputSummaryMax != 2000 || cfg.EventBusBufferSize != 100 {
		t.Errorf("summary=%d buffer=%d", cfg.OutputSummaryMax, cfg.EventBusBufferSize)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log = %s %s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.NotifyWebhookTimeout != 10*time.Second {
		t.Errorf("NotifyWebhookTimeout = %v", cfg.NotifyWebhookTimeout)
	}
	if cfg.EventBusEmitTimeout != 0 {
		t.Errorf("EventBusEmitTimeout = %v, want 0", cfg.EventBusEmitTimeout)
	}
	if cfg.StatsMirrorRetention != 7*24*time.Hour {
		t.Errorf("StatsMirrorRetention = %v", cfg.StatsMirrorRetention)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://user:pw@db/councilor")
	t.Setenv("DEFAULT_JOB_TIMEOUT", "2m")
	t.Setenv("SHUTDOWN_GRACE", "1m")
	t.Setenv("DB_MAX_OPEN_CONNS", "50")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_PORT", "9100")
	t.Setenv("NOTIFY_RATE_PER_SEC", "0.5")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("EVENTBUS_BUFFER_SIZE", "256")
	t.Setenv("EVENTBUS_EMIT_TIMEOUT", "50ms")
	t.Setenv("NOTIFY_WEBHOOK_TIMEOUT", "3s")
	t.Setenv("STATS_MIRROR_RETENTION", "24h")

	cfg := Load()

	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.DefaultJobTimeout != 2*time.Minute || cfg.ShutdownGrace != time.Minute {
		t.Errorf("timeouts = %v %v", cfg.DefaultJobTimeout, cfg.ShutdownGrace)
	}
	if cfg.DBMaxOpenConns != 50 {
		t.Errorf("DBMaxOpenConns = %d", cfg.DBMaxOpenConns)
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9100 {
		t.Errorf("metrics = %v %d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
	if cfg.NotifyRatePerSec != 0.5 {
		t.Errorf("NotifyRatePerSec = %v", cfg.NotifyRatePerSec)
	}
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("explicit 0 should disable the breaker, got %d", cfg.CircuitBreakerThreshold)
	}
	if cfg.EventBusBufferSize != 256 {
		t.Errorf("EventBusBufferSize = %d", cfg.EventBusBufferSize)
	}
	if cfg.EventBusEmitTimeout != 50*time.Millisecond || cfg.NotifyWebhookTimeout != 3*time.Second {
		t.Errorf("emit=%v webhook=%v", cfg.EventBusEmitTimeout, cfg.NotifyWebhookTimeout)
	}
	if cfg.StatsMirrorRetention != 24*time.Hour {
		t.Errorf("StatsMirrorRetention = %v", cfg.StatsMirrorRetention)
	}
}

func TestLoad_InvalidIntegersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVENTBUS_BUFFER_SIZE", "-3")
	t.Setenv("DB_MAX_IDLE_CONNS", "many")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "x")

	cfg := Load()
	if cfg.EventBusBufferSize != 100 || cfg.DBMaxIdleConns != 5 || cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("fallbacks = %d %d %d", cfg.EventBusBufferSize, cfg.DBMaxIdleConns, cfg.CircuitBreakerThreshold)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")

	if cfg := Load(); cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
}

func TestMaskedJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:secret@db/councilor")
	t.Setenv("NOTIFY_WEBHOOK_SECRET", "hmac-key")

	out, err := Load().MaskedJSON()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "secret@") || strings.Contains(string(out), "hmac-key") {
		t.Errorf("secrets leaked: %s", out)
	}

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if m["database_url"] != "postgres://***" || m["notify_webhook_secret"] != "***" {
		t.Errorf("masked = %v / %v", m["database_url"], m["notify_webhook_secret"])
	}
	if m["default_job_timeout"] != "10m" {
		t.Errorf("default_job_timeout = %v", m["default_job_timeout"])
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"postgres://u:p@h/db", "postgres://***"},
		{"postgresql://u:p@h/db", "postgresql://***"},
		{"plain", "***"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("CONDUCTOR_URL=http://from-dotenv:8000\nLOG_FORMAT=console\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	yamlFile := filepath.Join(dir, "councilor.yaml")
	yamlBody := "conductor_url: http://from-yaml:8000\nmetrics_port: 9200\nmetrics_enabled: true\nshutdown_grace: 45s\n"
	if err := os.WriteFile(yamlFile, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	// Unset entirely so the files can supply them.
	for _, k := range []string{"CONDUCTOR_URL", "LOG_FORMAT", "METRICS_PORT", "METRICS_ENABLED", "SHUTDOWN_GRACE"} {
		os.Unsetenv(k)
	}
	t.Setenv("HTTP_ADDR", ":9999")

	if err := LoadFiles(envFile, yamlFile); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	t.Cleanup(func() {
		for _, k := range []string{"CONDUCTOR_URL", "LOG_FORMAT", "METRICS_PORT", "METRICS_ENABLED", "SHUTDOWN_GRACE"} {
			os.Unsetenv(k)
		}
	})

	cfg := Load()
	if cfg.ConductorURL != "http://from-dotenv:8000" {
		t.Errorf(".env should win over yaml, got %q", cfg.ConductorURL)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.MetricsPort != 9200 || !cfg.MetricsEnabled {
		t.Errorf("metrics from yaml = %d %v", cfg.MetricsPort, cfg.MetricsEnabled)
	}
	if cfg.ShutdownGrace != 45*time.Second {
		t.Errorf("ShutdownGrace = %v", cfg.ShutdownGrace)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("environment should win, got %q", cfg.HTTPAddr)
	}
}

func TestLoadFiles_MissingFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := LoadFiles(filepath.Join(dir, "none.env"), filepath.Join(dir, "none.yaml")); err != nil {
		t.Errorf("missing files should be ignored: %v", err)
	}
	if err := LoadFiles("", ""); err != nil {
		t.Errorf("empty paths: %v", err)
	}
}

func TestParseYAML_RejectsNested(t *testing.T) {
	if _, err := parseYAML([]byte("store:\n  driver: sqlite\n")); err == nil {
		t.Error("expected error for nested yaml")
	}
	if _, err := parseYAML([]byte("not: [valid")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
