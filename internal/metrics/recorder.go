package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for installation metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the zero value so injection stays optional.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveInstallDuration(d time.Duration)
	IncStepResult(step string, result ResultLabel)
	IncInstallOutcome(outcome string) // outcome: success|failed|aborted
	ObserveMirrorFetchDuration(d time.Duration, success bool)
	IncRetry(step string)
	SetDirtyBytes(n uint64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration)      {}
func (NoopRecorder) ObserveInstallDuration(time.Duration)           {}
func (NoopRecorder) IncStepResult(string, ResultLabel)              {}
func (NoopRecorder) IncInstallOutcome(string)                       {}
func (NoopRecorder) ObserveMirrorFetchDuration(time.Duration, bool) {}
func (NoopRecorder) IncRetry(string)                                {}
func (NoopRecorder) SetDirtyBytes(uint64)                           {}
