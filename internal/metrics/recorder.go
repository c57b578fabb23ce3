package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSucceeded ResultLabel = "succeeded"
	ResultFailed    ResultLabel = "failed"
	ResultCanceled  ResultLabel = "canceled"
)

// Recorder defines observability hooks for run, lane, and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the zero NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveLaneDuration(lane string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncLaneOutcome(outcome string) // outcome: succeeded|failed|canceled
	IncRunOutcome(outcome string)
	SetLaneConcurrency(n int)
	IncInfraRetry(lane string)
	IncInfraRetryExhausted(lane string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveLaneDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveRunDuration(time.Duration)           {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncLaneOutcome(string)                      {}
func (NoopRecorder) IncRunOutcome(string)                       {}
func (NoopRecorder) SetLaneConcurrency(int)                     {}
func (NoopRecorder) IncInfraRetry(string)                       {}
func (NoopRecorder) IncInfraRetryExhausted(string)              {}
