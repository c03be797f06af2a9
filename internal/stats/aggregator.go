// Package stats maintains per-job execution counters.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/domain"
)

// Store holds the authoritative counters.
type Store interface {
	IncrementStats(ctx context.Context, jobID string, success bool, at time.Time) error
	GetStats(ctx context.Context, jobID string) (domain.Stats, error)
}

// Mirror receives a best-effort copy of every update.
type Mirror interface {
	Record(ctx context.Context, jobID string, success bool, at time.Time) error
}

// MirrorReader is implemented by mirrors that can serve counters back.
type MirrorReader interface {
	Read(ctx context.Context, jobID string) (domain.Stats, error)
}

// MetricsSink defines the interface for recording stats metrics.
type MetricsSink interface {
	StatsUpdateFailed(target string)
}

type Aggregator struct {
	store   Store
	mirror  Mirror      // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	logger  zerolog.Logger
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: log.Logger.With().Str("component", "stats").Logger(),
	}
}

func (a *Aggregator) WithMirror(m Mirror) *Aggregator {
	a.mirror = m
	return a
}

func (a *Aggregator) WithMetrics(sink MetricsSink) *Aggregator {
	a.metrics = sink
	return a
}

func (a *Aggregator) WithLogger(logger zerolog.Logger) *Aggregator {
	a.logger = logger.With().Str("component", "stats").Logger()
	return a
}

// Update counts one execution. success means the run completed with
// severity success. Failures are logged and never returned.
func (a *Aggregator) Update(ctx context.Context, jobID string, success bool, at time.Time) {
	if err := a.store.IncrementStats(ctx, jobID, success, at); err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID).Msg("increment stats failed")
		if a.metrics != nil {
			a.metrics.StatsUpdateFailed("store")
		}
	}

	if a.mirror == nil {
		return
	}
	if err := a.mirror.Record(ctx, jobID, success, at); err != nil {
		a.logger.Warn().Err(err).Str("job_id", jobID).Msg("stats mirror update failed")
		if a.metrics != nil {
			a.metrics.StatsUpdateFailed("mirror")
		}
	}
}

// GetStats returns the stored counters; a job that never ran has zero
// counters. While the store is unavailable the mirror's copy is returned
// when the mirror can be read.
func (a *Aggregator) GetStats(ctx context.Context, jobID string) (domain.Stats, error) {
	st, err := a.store.GetStats(ctx, jobID)
	if err == nil || !errors.Is(err, domain.ErrStoreUnavailable) {
		return st, err
	}
	reader, ok := a.mirror.(MirrorReader)
	if !ok {
		return st, err
	}
	mirrored, mErr := reader.Read(ctx, jobID)
	if mErr != nil {
		a.logger.Warn().Err(mErr).Str("job_id", jobID).Msg("stats mirror read failed")
		return st, err
	}
	a.logger.Warn().Err(err).Str("job_id", jobID).Msg("store unavailable, serving mirrored stats")
	return mirrored, nil
}
