package metrics

import "time"

// Outcome labels shared by start and stop counters.
const (
	OutcomeSuccess            = "success"
	OutcomeAlreadyActive      = "already_active"
	OutcomeNotActive          = "not_active"
	OutcomeLaunchFailure      = "launch_failure"
	OutcomeNoFrames           = "no_frames"
	OutcomeStateWriteFailure  = "state_write_failure"
	OutcomeTerminationFailure = "termination_failure"
	OutcomeCanceled           = "canceled"
)

// Recorder defines observability hooks for the recording lifecycle. All methods
// must be safe on the zero value of the implementation.
type Recorder interface {
	IncStartOutcome(initiator, outcome string)
	IncStopOutcome(initiator, outcome string)
	ObserveConfirmDuration(d time.Duration)
	ObserveRecordingDuration(d time.Duration)
	IncTerminationPhase(phase string)
	SetRecordingActive(active bool)
	SetHealthStatus(status string)
	IncTickDecision(decision string)
	IncReconcileAction(action string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncStartOutcome(string, string)         {}
func (NoopRecorder) IncStopOutcome(string, string)          {}
func (NoopRecorder) ObserveConfirmDuration(time.Duration)   {}
func (NoopRecorder) ObserveRecordingDuration(time.Duration) {}
func (NoopRecorder) IncTerminationPhase(string)             {}
func (NoopRecorder) SetRecordingActive(bool)                {}
func (NoopRecorder) SetHealthStatus(string)                 {}
func (NoopRecorder) IncTickDecision(string)                 {}
func (NoopRecorder) IncReconcileAction(string)              {}
