// Package channel is the in-process lifecycle event bus.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/councilor/internal/domain"
)

// ErrBufferFull is returned when an event could not be queued before the emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// DefaultEmitTimeout of zero drops an event immediately when the buffer is full.
const DefaultEmitTimeout time.Duration = 0

// MetricsSink defines the interface for recording event bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout makes Emit wait up to d for buffer space.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) { b.metrics = sink }
}

type EventBus struct {
	ch          chan domain.LifecycleEvent
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.LifecycleEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(cap(b.ch))
	}
	return b
}

// Emit queues event. It never blocks longer than the emit timeout.
func (b *EventBus) Emit(ctx context.Context, event domain.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	default:
	}

	if b.emitTimeout <= 0 {
		b.recordError()
		return ErrBufferFull
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	case <-timer.C:
		b.recordError()
		return ErrBufferFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run hands every event to fn until ctx is done, then drains what is buffered.
func (b *EventBus) Run(ctx context.Context, fn func(domain.LifecycleEvent)) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-b.ch:
					fn(event)
				default:
					return
				}
			}
		case event := <-b.ch:
			b.recordSize()
			fn(event)
		}
	}
}

func (b *EventBus) recordSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *EventBus) recordError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
