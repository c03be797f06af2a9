package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	jobsArmed           prometheus.Gauge
	jobsFiredTotal      prometheus.Counter
	overlapsTotal       prometheus.Counter
	persistRetriesTotal *prometheus.CounterVec

	// Executor metrics
	executionsTotal     *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	executionsInFlight  prometheus.Gauge
	recordFailuresTotal prometheus.Counter

	// Backend metrics
	backendRequestsTotal *prometheus.CounterVec
	backendDuration      prometheus.Histogram

	// Notification and stats metrics
	notificationsTotal       *prometheus.CounterVec
	statsUpdateFailuresTotal *prometheus.CounterVec

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.jobsArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "councilor_scheduler_jobs_armed",
		Help: "Number of jobs currently holding a timer.",
	})
	s.jobsFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "councilor_scheduler_jobs_fired_total",
		Help: "Total number of job firings.",
	})
	s.overlapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "councilor_scheduler_overlaps_deferred_total",
		Help: "Firings skipped because the previous run was still in flight.",
	})
	s.persistRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "councilor_scheduler_persist_retries_total",
		Help: "Retries of failed next_run_at writes.",
	}, []string{"success"})

	s.register(reg, s.jobsArmed, "councilor_scheduler_jobs_armed")
	s.register(reg, s.jobsFiredTotal, "councilor_scheduler_jobs_fired_total")
	s.register(reg, s.overlapsTotal, "councilor_scheduler_overlaps_deferred_total")
	s.register(reg, s.persistRetriesTotal, "councilor_scheduler_persist_retries_total")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "councilor_executor_executions_total",
		Help: "Total number of completed executions by severity.",
	}, []string{"severity"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "councilor_executor_execution_duration_seconds",
		Help:    "Wall-clock duration of executions in seconds.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "councilor_executor_executions_in_flight",
		Help: "Number of executions currently running.",
	})
	s.recordFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "councilor_executor_record_write_failures_total",
		Help: "Execution records that could not be persisted.",
	})

	s.register(reg, s.executionsTotal, "councilor_executor_executions_total")
	s.register(reg, s.executionDuration, "councilor_executor_execution_duration_seconds")
	s.register(reg, s.executionsInFlight, "councilor_executor_executions_in_flight")
	s.register(reg, s.recordFailuresTotal, "councilor_executor_record_write_failures_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.backendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "councilor_backend_requests_total",
		Help: "Backend invocations by status class.",
	}, []string{"status_class"})
	s.backendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "councilor_backend_request_duration_seconds",
		Help:    "Backend request latency in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
	})
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "councilor_notifications_total",
		Help: "Notification attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	s.statsUpdateFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "councilor_stats_update_failures_total",
		Help: "Failed statistics updates by target.",
	}, []string{"target"})

	s.register(reg, s.backendRequestsTotal, "councilor_backend_requests_total")
	s.register(reg, s.backendDuration, "councilor_backend_request_duration_seconds")
	s.register(reg, s.notificationsTotal, "councilor_notifications_total")
	s.register(reg, s.statsUpdateFailuresTotal, "councilor_stats_update_failures_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "councilor_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "councilor_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "councilor_eventbus_buffer_saturation",
		Help: "Fraction of the event bus buffer in use.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "councilor_eventbus_emit_errors_total",
		Help: "Total number of dropped lifecycle events.",
	})

	s.register(reg, s.bufferSize, "councilor_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "councilor_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "councilor_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "councilor_eventbus_emit_errors_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("component", "metrics").Str("metric", name).Msg("failed to register collector")
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *PrometheusSink) JobsArmedUpdate(count int) {
	s.jobsArmed.Set(float64(count))
}

func (s *PrometheusSink) JobFired() {
	s.jobsFiredTotal.Inc()
}

func (s *PrometheusSink) OverlapDeferred() {
	s.overlapsTotal.Inc()
}

func (s *PrometheusSink) PersistRetry(success bool) {
	s.persistRetriesTotal.WithLabelValues(boolLabel(success)).Inc()
}

func (s *PrometheusSink) ExecutionCompleted(severity string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(severity).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

func (s *PrometheusSink) RecordWriteFailed() {
	s.recordFailuresTotal.Inc()
}

func (s *PrometheusSink) BackendRequestCompleted(statusClass string, duration time.Duration) {
	s.backendRequestsTotal.WithLabelValues(statusClass).Inc()
	s.backendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) NotificationOutcome(channel, outcome string) {
	s.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (s *PrometheusSink) StatsUpdateFailed(target string) {
	s.statsUpdateFailuresTotal.WithLabelValues(target).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
