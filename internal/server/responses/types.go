// Package responses defines API response types used by the streamrec HTTP handlers.
package responses

import (
	"time"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/state"
)

// StartRequest is the body of POST /api/v1/recording/start. Both fields are optional.
type StartRequest struct {
	URL        string `json:"url,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
}

// RecordingResponse answers GET /api/v1/recording.
type RecordingResponse struct {
	Active  bool           `json:"active"`
	Session *state.Session `json:"session,omitempty"`
	// ElapsedSeconds is the recording age when active.
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// SchedulerResponse answers GET /api/v1/scheduler.
type SchedulerResponse struct {
	State          state.SchedulerState `json:"state"`
	ActiveRule     *schedule.Rule       `json:"active_rule,omitempty"`
	NextTransition *time.Time           `json:"next_transition,omitempty"`
	Rules          int                  `json:"rules"`
	RulesLoadedAt  time.Time            `json:"rules_loaded_at"`
}

// ActivityResponse answers GET /api/v1/activity.
type ActivityResponse struct {
	Entries []activity.Entry `json:"entries"`
}

// ChangeResponse answers GET /api/v1/change.
type ChangeResponse struct {
	Change int64 `json:"change"`
}

// LivenessResponse answers GET /healthz.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}
