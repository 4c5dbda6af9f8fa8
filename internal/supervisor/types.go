package supervisor

import (
	"context"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/state"
)

// Status is the machine-readable outcome of a control action.
type Status string

const (
	StatusStarted       Status = "started"
	StatusStopped       Status = "stopped"
	StatusAlreadyActive Status = "already_active"
	StatusNotActive     Status = "not_active"
	StatusAdopted       Status = "adopted"
	StatusFailed        Status = "failed"
)

// StartRequest describes a start call.
type StartRequest struct {
	// StreamURL overrides the configured default stream.
	StreamURL  string
	Initiator  state.Initiator
	ScheduleID *string
}

// Result is returned by every control action.
type Result struct {
	OK          bool                       `json:"ok"`
	Status      Status                     `json:"status"`
	Message     string                     `json:"message"`
	Session     *state.Session             `json:"session,omitempty"`
	Filename    string                     `json:"filename,omitempty"`
	Duration    time.Duration              `json:"duration,omitempty"`
	FinalSize   int64                      `json:"final_size,omitempty"`
	Termination *capture.TerminationReport `json:"termination,omitempty"`
}

// Launcher starts capture processes.
type Launcher interface {
	Launch(ctx context.Context, streamURL, outputPath string) (*capture.Process, error)
}

// ReasonOwnership is the change reason for a scheduler owner transition.
const ReasonOwnership = "scheduler.ownership"

// ChangeNotifier receives the change stamp after every state transition. It is
// called after the supervisor lock is released, so it may call back into the
// supervisor.
type ChangeNotifier interface {
	Changed(ctx context.Context, change int64, reason string)
}

type noopNotifier struct{}

func (noopNotifier) Changed(context.Context, int64, string) {}
