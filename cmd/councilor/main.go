package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/api"
	"github.com/djlord-it/councilor/internal/backend"
	"github.com/djlord-it/councilor/internal/circuitbreaker"
	"github.com/djlord-it/councilor/internal/config"
	"github.com/djlord-it/councilor/internal/control"
	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/executor"
	"github.com/djlord-it/councilor/internal/logging"
	"github.com/djlord-it/councilor/internal/metrics"
	"github.com/djlord-it/councilor/internal/notify"
	"github.com/djlord-it/councilor/internal/scheduler"
	"github.com/djlord-it/councilor/internal/stats"
	"github.com/djlord-it/councilor/internal/store/postgres"
	"github.com/djlord-it/councilor/internal/store/sqlite"
	"github.com/djlord-it/councilor/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// jobStore is everything serve needs from a storage backend. Both the
// postgres and sqlite stores satisfy it.
type jobStore interface {
	control.Store
	scheduler.Store
	executor.Store
	stats.Store
	Close() error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`councilor - persistent job scheduler for conductor agents

Usage:
  councilor <command>

Commands:
  serve      Recover jobs, start the scheduler and the control API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Configuration is read from the environment, then from .env in the working
directory, then from the flat YAML file named by CONFIG_FILE. Earlier
sources win.

Environment Variables:
  STORE_DRIVER               "sqlite" or "postgres" (default: "sqlite")
  SQLITE_PATH                SQLite database file (default: "data/councilor.db")
  DATABASE_URL               PostgreSQL connection string (required for postgres)
  REDIS_ADDR                 Redis address for the stats mirror (optional)
  HTTP_ADDR                  Control API address (default: ":8080", or ":$PORT")
  CONDUCTOR_URL              Conductor backend base URL (default: "http://localhost:8000")

  DEFAULT_JOB_TIMEOUT        Task timeout when a job sets none (default: "10m")
  SHUTDOWN_GRACE             Wait for in-flight executions on shutdown (default: "30s")
  OUTPUT_SUMMARY_MAX         Max characters kept from task output (default: "2000")

  DB_OP_TIMEOUT              Store operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open postgres connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle postgres connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max postgres connection lifetime (default: "30m")
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED            Expose Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  NOTIFY_WEBHOOK_URL         Webhook notification endpoint (optional)
  NOTIFY_WEBHOOK_SECRET      HMAC secret for webhook signatures (optional)
  NOTIFY_WEBHOOK_TIMEOUT     Per-request webhook timeout (default: "10s")
  NOTIFY_RATE_PER_SEC        Notification rate limit, 0 disables (default: "1")
  CIRCUIT_BREAKER_THRESHOLD  Failures before a channel is skipped, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   How long an open channel stays skipped (default: "2m")
  EVENTBUS_BUFFER_SIZE       Lifecycle event buffer (default: "100")
  EVENTBUS_EMIT_TIMEOUT      Wait for buffer space before dropping an event (default: "0s")
  STATS_MIRROR_RETENTION     How long hourly Redis stats buckets are kept (default: "168h")

  LOG_LEVEL                  trace, debug, info, warn, error (default: "info")
  LOG_FORMAT                 "json" or "console" (default: "json")
  CONFIG_FILE                Flat YAML file with defaults for the above (optional)

Exit Codes:
  0  Success
  1  Runtime error
  2  Invalid configuration`)
}

func loadConfig() (config.Config, error) {
	if err := config.LoadFiles(".env", os.Getenv("CONFIG_FILE")); err != nil {
		return config.Config{}, err
	}
	return config.Load(), nil
}

func runServe() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("component", "councilor").Logger()
	logging.SetGlobal(logger)
	logConfigWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return exitRuntimeError
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Int("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	bus := channel.NewEventBus(cfg.EventBusBufferSize,
		channel.WithEmitTimeout(cfg.EventBusEmitTimeout),
		channel.WithMetrics(sink))
	busCtx, cancelBus := context.WithCancel(context.Background())
	var busWg sync.WaitGroup
	busWg.Add(1)
	go func() {
		defer busWg.Done()
		eventLog := logger.With().Str("component", "events").Logger()
		bus.Run(busCtx, func(ev domain.LifecycleEvent) {
			logLifecycleEvent(eventLog, ev)
		})
	}()

	conductor := backend.NewConductor(cfg.ConductorURL).
		WithMetrics(sink).
		WithLogger(logger)

	aggregator := stats.NewAggregator(store).
		WithMetrics(sink).
		WithLogger(logger)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		aggregator = aggregator.WithMirror(stats.NewRedisMirror(redisClient).WithRetention(cfg.StatsMirrorRetention))
		logger.Info().Str("redis", cfg.RedisAddr).Dur("retention", cfg.StatsMirrorRetention).Msg("stats mirror enabled")
	}

	// The first channel is the default for jobs that name none.
	var channels []notify.Channel
	if cfg.NotifyWebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret).
			WithTimeout(cfg.NotifyWebhookTimeout))
	}
	channels = append(channels, notify.NewLogChannel(logger))
	channelNames := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelNames = append(channelNames, ch.Name())
	}
	dispatcher := notify.NewDispatcher(channels...).
		WithRateLimit(cfg.NotifyRatePerSec, 1).
		WithMetrics(sink).
		WithLogger(logger)
	if cfg.CircuitBreakerThreshold > 0 {
		dispatcher = dispatcher.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	exec := executor.New(executor.Config{
		DefaultTimeout:   cfg.DefaultJobTimeout,
		OutputSummaryMax: cfg.OutputSummaryMax,
	}, conductor, store).
		WithClassifier(executor.NewClassifier(nil)).
		WithStats(aggregator).
		WithNotifier(dispatcher).
		WithEvents(bus).
		WithMetrics(sink).
		WithLogger(logger)

	sched := scheduler.New(scheduler.Config{
		ShutdownGrace: cfg.ShutdownGrace,
		OpTimeout:     cfg.DBOpTimeout,
	}, store, exec).
		WithMetrics(sink).
		WithLogger(logger)

	armed, err := sched.Recover(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("recovery aborted")
		cancelBus()
		busWg.Wait()
		return exitRuntimeError
	}

	var schedWg sync.WaitGroup
	schedWg.Add(1)
	go func() {
		defer schedWg.Done()
		if err := sched.Run(context.Background()); err != nil {
			logger.Error().Err(err).Msg("scheduler exited")
		}
	}()

	svc := control.New(store, sched).
		WithStats(aggregator).
		WithLogger(logger)
	apiHandler := api.NewHandler(svc).
		WithChannels(channelNames...).
		WithLogger(logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	logger.Info().
		Str("version", version).
		Str("driver", cfg.StoreDriver).
		Int("jobs_armed", armed).
		Str("http", cfg.HTTPAddr).
		Msg("started")

	<-ctx.Done()
	logger.Info().Msg("received signal, shutting down")

	// Phase 1: stop accepting control requests
	logger.Info().Msg("stopping http server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	// Phase 2: stop dispatch, wait for in-flight executions and their records
	logger.Info().Dur("grace", cfg.ShutdownGrace).Msg("stopping scheduler...")
	if err := svc.Shutdown(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("scheduler shutdown error")
	}
	schedWg.Wait()
	logger.Info().Msg("scheduler stopped")

	// Phase 3: drain lifecycle events
	cancelBus()
	busWg.Wait()

	// Phase 4: auxiliary servers and clients
	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsCancel()
		if err := metricsServer.Shutdown(metricsCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close failed")
		}
	}

	logger.Info().Msg("stopped")
	return exitSuccess
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (jobStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info().
			Int("max_open", cfg.DBMaxOpenConns).
			Int("max_idle", cfg.DBMaxIdleConns).
			Dur("max_lifetime", cfg.DBConnMaxLifetime).
			Msg("postgres store ready")
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return store.WithOpTimeout(cfg.DBOpTimeout), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func logLifecycleEvent(logger zerolog.Logger, ev domain.LifecycleEvent) {
	e := logger.Debug()
	if ev.Type == domain.EventError {
		e = logger.Warn()
	}
	e = e.Str("event", string(ev.Type)).
		Str("job_id", ev.JobID).
		Str("execution_id", ev.ExecutionID.String())
	if ev.Severity != "" {
		e = e.Str("severity", string(ev.Severity))
	}
	if ev.Duration > 0 {
		e = e.Dur("duration", ev.Duration)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Msg("lifecycle event")
}

func runValidate() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("councilor version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
