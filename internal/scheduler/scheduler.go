// Package scheduler is the periodic control loop that turns the active schedule
// rule into start, stop, and hand-off calls on the supervisor.
//
// Ownership: the loop only ever stops sessions it owns, i.e. sessions recorded
// with a current schedule id. Manual and API sessions are left alone. Stop,
// hand-off and release are conditional on the owner the tick observed, so a
// session started between the observation and the call is never touched.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/metrics"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

// Action is the decision taken by one tick.
type Action string

const (
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionHandoff    Action = "handoff"
	ActionHoldManual Action = "hold_manual"
	ActionHold       Action = "hold"
	ActionIdle       Action = "idle"
	ActionClear      Action = "clear"
	ActionError      Action = "error"
)

// Decision is the auditable outcome of a tick.
type Decision struct {
	Action    Action    `json:"action"`
	Time      time.Time `json:"time"`
	RuleID    string    `json:"rule_id,omitempty"`
	RuleTitle string    `json:"rule_title,omitempty"`
	Recording bool      `json:"recording"`
	// PreviousScheduleID is the owner before the tick.
	PreviousScheduleID *string `json:"previous_schedule_id,omitempty"`
	Message            string  `json:"message,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// Controller is the supervisor surface the loop drives. StopOwned, HandOff and
// ReleaseOwnership act only while the named schedule still owns the record.
type Controller interface {
	IsActive() bool
	SchedulerState() state.SchedulerState
	SetSchedulerState(ctx context.Context, fn func(*state.SchedulerState)) error
	Start(ctx context.Context, req supervisor.StartRequest) (supervisor.Result, error)
	StopOwned(ctx context.Context, scheduleID string) (supervisor.Result, error)
	HandOff(ctx context.Context, from, to string) (bool, error)
	ReleaseOwnership(ctx context.Context, from string) (bool, error)
}

// RuleSource yields the active rule for an instant. *schedule.Set implements it.
type RuleSource interface {
	Active(now time.Time) (schedule.Rule, bool)
}

// Loop evaluates the rules and drives the controller.
type Loop struct {
	ctrl     Controller
	rules    RuleSource
	activity activity.Logger
	metrics  metrics.Recorder
	clock    clockwork.Clock
}

// Option customizes a Loop.
type Option func(*Loop)

// WithActivity records every tick decision.
func WithActivity(l activity.Logger) Option { return func(lp *Loop) { lp.activity = l } }

// WithMetrics counts tick decisions.
func WithMetrics(m metrics.Recorder) Option { return func(lp *Loop) { lp.metrics = m } }

// WithClock sets the clock used by Run.
func WithClock(c clockwork.Clock) Option { return func(lp *Loop) { lp.clock = c } }

// New creates a control loop.
func New(ctrl Controller, rules RuleSource, opts ...Option) *Loop {
	l := &Loop{
		ctrl:     ctrl,
		rules:    rules,
		activity: activity.SlogLogger{},
		metrics:  metrics.NoopRecorder{},
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run performs one tick at the current time. Errors are logged, never returned,
// so a failed tick never takes the daemon or the CLI down.
func (l *Loop) Run(ctx context.Context) Decision {
	d, _ := l.Tick(ctx, l.clock.Now())
	return d
}

// Tick evaluates the transition table for now.
func (l *Loop) Tick(ctx context.Context, now time.Time) (Decision, error) {
	rule, hasRule := l.rules.Active(now)
	recording := l.ctrl.IsActive()
	owner := l.ctrl.SchedulerState().CurrentScheduleID

	d := Decision{Time: now, Recording: recording, PreviousScheduleID: state.CloneID(owner)}
	if hasRule {
		d.RuleID = rule.ID
		d.RuleTitle = rule.Title
	}

	var err error
	switch {
	case hasRule && !recording:
		d.Action = ActionStart
		var res supervisor.Result
		res, err = l.ctrl.Start(ctx, supervisor.StartRequest{
			Initiator:  state.InitiatorScheduler,
			ScheduleID: state.ID(rule.ID),
		})
		d.Message = res.Message
		if stderrors.Is(err, supervisor.ErrAlreadyActive) {
			err = nil
			l.superseded(&d)
		}

	case recording && owner == nil:
		d.Action = ActionHoldManual
		d.Message = "manual session in progress; not touching it"

	case !hasRule && recording:
		d.Action = ActionStop
		var res supervisor.Result
		res, err = l.ctrl.StopOwned(ctx, *owner)
		d.Message = res.Message
		if err == nil && res.Status == supervisor.StatusNotActive {
			l.superseded(&d)
		}

	case hasRule && *owner != rule.ID:
		d.Action = ActionHandoff
		d.Message = fmt.Sprintf("schedule hand-off %s -> %s", *owner, rule.ID)
		var applied bool
		applied, err = l.ctrl.HandOff(ctx, *owner, rule.ID)
		if err == nil && !applied {
			l.superseded(&d)
		}

	case hasRule:
		d.Action = ActionHold
		d.Message = "scheduled recording in progress"

	case owner != nil:
		d.Action = ActionClear
		d.Message = "clearing ownership of a schedule with no recording"
		var applied bool
		applied, err = l.ctrl.ReleaseOwnership(ctx, *owner)
		if err == nil && !applied {
			l.superseded(&d)
		}

	default:
		d.Action = ActionIdle
	}

	if err != nil {
		d.Message = fmt.Sprintf("%s failed", d.Action)
		d.Action = ActionError
		d.Error = err.Error()
	}

	if perr := l.ctrl.SetSchedulerState(ctx, func(s *state.SchedulerState) {
		s.LastAction = string(d.Action)
		s.LastActionTime = now
	}); perr != nil && err == nil {
		err = perr
		d.Error = perr.Error()
	}

	l.record(ctx, d)
	return d, err
}

// superseded rewrites a decision whose conditional call found the state changed
// by a concurrent start or stop. The tick then reports what it would decide now.
func (l *Loop) superseded(d *Decision) {
	d.Recording = l.ctrl.IsActive()
	owner := l.ctrl.SchedulerState().CurrentScheduleID
	switch {
	case d.Recording && owner != nil:
		d.Action = ActionHold
	case d.Recording:
		d.Action = ActionHoldManual
	default:
		d.Action = ActionIdle
	}
	d.Message = "state changed during tick; nothing done"
}

func (l *Loop) record(ctx context.Context, d Decision) {
	attrs := []any{
		logfields.Decision(string(d.Action)),
		slog.Bool("recording", d.Recording),
		logfields.OptionalScheduleID(d.PreviousScheduleID),
	}
	if d.RuleID != "" {
		attrs = append(attrs, slog.String("rule_id", d.RuleID), logfields.RuleTitle(d.RuleTitle))
	}
	if d.Error != "" {
		attrs = append(attrs, slog.String("error", d.Error))
		slog.ErrorContext(ctx, "Scheduler tick failed", attrs...)
	} else {
		slog.InfoContext(ctx, "Scheduler tick", attrs...)
	}

	l.metrics.IncTickDecision(string(d.Action))

	subject := string(d.Action)
	if d.RuleID != "" {
		subject += ":" + d.RuleID
	}
	if err := l.activity.LogActivity(ctx, string(state.InitiatorScheduler), activity.ActionSchedulerTick, subject); err != nil {
		slog.WarnContext(ctx, "Failed to record tick activity", logfields.Error(err))
	}
}
