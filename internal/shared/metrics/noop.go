package metrics

import "time"

// NoopSink discards all metrics.
type NoopSink struct{}

func (NoopSink) Admission(string)                  {}
func (NoopSink) JobFinished(string, time.Duration) {}
func (NoopSink) AttemptCompleted(string)           {}
func (NoopSink) Retry()                            {}
func (NoopSink) BreakerState(string)               {}
func (NoopSink) QueueDepth(int)                    {}

var _ Sink = NoopSink{}
