// Package activity records who did what to the recorder: starts, stops,
// adoptions, and every scheduler tick decision.
package activity

import (
	"context"
	"log/slog"
	"time"
)

// Well-known actions.
const (
	ActionRecordingStarted = "recording.started"
	ActionRecordingStopped = "recording.stopped"
	ActionRecordingAdopted = "recording.adopted"
	ActionSessionCleared   = "recording.stale_cleared"
	ActionOrphanKilled     = "recording.orphan_killed"
	ActionSchedulerTick    = "scheduler.tick"
)

// Logger is the collaborator the supervisor notifies.
type Logger interface {
	LogActivity(ctx context.Context, user, action, subject string) error
}

// Entry is one stored activity record.
type Entry struct {
	ID      string            `json:"id"`
	Time    time.Time         `json:"time"`
	User    string            `json:"user"`
	Action  string            `json:"action"`
	Subject string            `json:"subject"`
	Details map[string]string `json:"details,omitempty"`
}

// SlogLogger writes activity to the structured log only.
type SlogLogger struct {
	Logger *slog.Logger
}

// LogActivity implements Logger.
func (l SlogLogger) LogActivity(ctx context.Context, user, action, subject string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Activity",
		slog.String("user", user),
		slog.String("action", action),
		slog.String("subject", subject))
	return nil
}
