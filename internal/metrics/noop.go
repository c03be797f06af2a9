package metrics

import "time"

// NoopSink is used when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobsArmedUpdate(count int)                                          {}
func (n *NoopSink) JobFired()                                                          {}
func (n *NoopSink) OverlapDeferred()                                                   {}
func (n *NoopSink) PersistRetry(success bool)                                          {}
func (n *NoopSink) ExecutionCompleted(severity string, duration time.Duration)         {}
func (n *NoopSink) ExecutionsInFlightIncr()                                            {}
func (n *NoopSink) ExecutionsInFlightDecr()                                            {}
func (n *NoopSink) RecordWriteFailed()                                                 {}
func (n *NoopSink) BackendRequestCompleted(statusClass string, duration time.Duration) {}
func (n *NoopSink) NotificationOutcome(channel, outcome string)                        {}
func (n *NoopSink) StatsUpdateFailed(target string)                                    {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                     {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                          {}
func (n *NoopSink) EmitError()                                                         {}
