// Package notify decides whether an execution outcome warrants a
// notification and delivers it through a named channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/djlord-it/councilor/internal/domain"
)

var ErrUnknownChannel = errors.New("unknown notification channel")

const (
	OutcomeSent           = "sent"
	OutcomeFailed         = "failed"
	OutcomeCircuitOpen    = "circuit_open"
	OutcomeRateLimited    = "rate_limited"
	OutcomeUnknownChannel = "unknown_channel"
)

// Notification is what a channel delivers.
type Notification struct {
	Channel     string                 `json:"-"`
	JobID       string                 `json:"job_id"`
	JobName     string                 `json:"job_name"`
	ExecutionID string                 `json:"execution_id"`
	Severity    domain.Severity        `json:"severity"`
	Status      domain.ExecutionStatus `json:"status"`
	Summary     string                 `json:"summary"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	DurationMs  int64                  `json:"duration_ms"`
}

type Channel interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Breaker guards a channel against repeated delivery failures.
type Breaker interface {
	Allow(channel string) error
	RecordSuccess(channel string)
	RecordFailure(channel string)
}

// MetricsSink defines the interface for recording notification metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	NotificationOutcome(channel, outcome string)
}

// ShouldNotify reports whether policy asks for a notification at severity.
func ShouldNotify(policy domain.NotificationPolicy, severity domain.Severity) bool {
	switch severity {
	case domain.SeveritySuccess:
		return policy.OnSuccess
	case domain.SeverityWarning:
		return policy.OnWarning
	case domain.SeverityError:
		return policy.OnError
	default:
		return false
	}
}

type Dispatcher struct {
	channels       map[string]Channel
	defaultChannel string
	limiter        *rate.Limiter // optional, nil = unlimited
	breaker        Breaker       // optional, nil = disabled
	metrics        MetricsSink   // optional, nil = disabled
	logger         zerolog.Logger
}

// NewDispatcher registers channels by name. The first channel is used
// when a policy names none.
func NewDispatcher(channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		logger:   log.Logger.With().Str("component", "notify").Logger(),
	}
	for _, ch := range channels {
		if d.defaultChannel == "" {
			d.defaultChannel = ch.Name()
		}
		d.channels[ch.Name()] = ch
	}
	return d
}

// WithRateLimit allows perSecond deliveries on average with the given burst.
func (d *Dispatcher) WithRateLimit(perSecond float64, burst int) *Dispatcher {
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return d
}

func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithLogger(logger zerolog.Logger) *Dispatcher {
	d.logger = logger.With().Str("component", "notify").Logger()
	return d
}

// Evaluate notifies if the job's policy asks for rec's severity.
// Delivery errors are logged and counted, never returned.
func (d *Dispatcher) Evaluate(ctx context.Context, job domain.Job, rec domain.ExecutionRecord) {
	if !ShouldNotify(job.Notification, rec.Severity) {
		return
	}

	n := Notification{
		Channel:     job.Notification.Channel,
		JobID:       job.ID,
		JobName:     job.DisplayName(),
		ExecutionID: rec.ID.String(),
		Severity:    rec.Severity,
		Status:      rec.Status,
		Summary:     rec.OutputSummary,
		Error:       rec.ErrorDetail,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		DurationMs:  rec.Duration.Milliseconds(),
	}
	if err := d.Dispatch(ctx, n); err != nil {
		d.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("execution_id", n.ExecutionID).
			Str("channel", d.channelName(n)).
			Msg("notification not delivered")
	}
}

// Dispatch delivers n through its channel, subject to the rate limit and
// the channel's circuit breaker.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	name := d.channelName(n)
	ch, ok := d.channels[name]
	if !ok {
		d.record(name, OutcomeUnknownChannel)
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(name); err != nil {
			d.record(name, OutcomeCircuitOpen)
			return fmt.Errorf("channel %s: %w", name, err)
		}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.record(name, OutcomeRateLimited)
			return fmt.Errorf("channel %s: rate limit: %w", name, err)
		}
	}

	if err := ch.Notify(ctx, n); err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(name)
		}
		d.record(name, OutcomeFailed)
		return fmt.Errorf("channel %s: %w", name, err)
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(name)
	}
	d.record(name, OutcomeSent)
	d.logger.Debug().Str("job_id", n.JobID).Str("channel", name).Str("severity", string(n.Severity)).Msg("notification sent")
	return nil
}

func (d *Dispatcher) channelName(n Notification) string {
	if n.Channel != "" {
		return n.Channel
	}
	return d.defaultChannel
}

func (d *Dispatcher) record(channel, outcome string) {
	if d.metrics != nil {
		d.metrics.NotificationOutcome(channel, outcome)
	}
}
