package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

// fakeController mimics the supervisor's state transitions without processes.
type fakeController struct {
	session  *state.Session
	sched    state.SchedulerState
	startErr error
	starts   []supervisor.StartRequest
	stops    int
	// interleave runs inside Start and the conditional calls before state is checked.
	interleave func()
}

func (f *fakeController) IsActive() bool                       { return f.session != nil }
func (f *fakeController) SchedulerState() state.SchedulerState { return f.sched.Clone() }

func (f *fakeController) SetSchedulerState(_ context.Context, fn func(*state.SchedulerState)) error {
	fn(&f.sched)
	return nil
}

func (f *fakeController) Start(_ context.Context, req supervisor.StartRequest) (supervisor.Result, error) {
	f.starts = append(f.starts, req)
	if f.interleave != nil {
		f.interleave()
	}
	if f.session != nil {
		return supervisor.Result{Status: supervisor.StatusAlreadyActive}, supervisor.ErrAlreadyActive
	}
	if f.startErr != nil {
		return supervisor.Result{Status: supervisor.StatusFailed}, f.startErr
	}
	f.session = &state.Session{PID: 1, StartedBy: req.Initiator, ScheduleID: state.CloneID(req.ScheduleID)}
	if req.Initiator == state.InitiatorScheduler {
		f.sched.CurrentScheduleID = state.CloneID(req.ScheduleID)
	}
	return supervisor.Result{OK: true, Status: supervisor.StatusStarted, Message: "Recording started"}, nil
}

func (f *fakeController) Stop(context.Context, state.Initiator) (supervisor.Result, error) {
	f.stops++
	f.session = nil
	f.sched.CurrentScheduleID = nil
	return supervisor.Result{OK: true, Status: supervisor.StatusStopped, Message: "Recording stopped"}, nil
}

func (f *fakeController) owns(scheduleID string) bool {
	if f.interleave != nil {
		f.interleave()
	}
	return state.SameID(f.sched.CurrentScheduleID, &scheduleID)
}

func (f *fakeController) StopOwned(ctx context.Context, scheduleID string) (supervisor.Result, error) {
	if !f.owns(scheduleID) || f.session == nil {
		return supervisor.Result{Status: supervisor.StatusNotActive}, nil
	}
	return f.Stop(ctx, state.InitiatorScheduler)
}

func (f *fakeController) HandOff(_ context.Context, from, to string) (bool, error) {
	if !f.owns(from) || f.session == nil {
		return false, nil
	}
	f.sched.CurrentScheduleID = state.ID(to)
	return true, nil
}

func (f *fakeController) ReleaseOwnership(_ context.Context, from string) (bool, error) {
	if !f.owns(from) || f.session != nil {
		return false, nil
	}
	f.sched.CurrentScheduleID = nil
	return true, nil
}

// swapToManual replaces whatever is running with a manual session.
func (f *fakeController) swapToManual() {
	f.session = &state.Session{PID: 42, StartedBy: state.InitiatorManual}
	f.sched.CurrentScheduleID = nil
}

func daily(id, start, end string) schedule.Rule {
	return schedule.Rule{ID: id, Title: id, Enabled: true, Type: schedule.TypeDaily, StartTime: start, EndTime: end}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 15, hour, minute, 0, 0, time.Local)
}

func TestTick_StartsAndStopsOwnedSession(t *testing.T) {
	ctrl := &fakeController{}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}))

	d, err := loop.Tick(t.Context(), at(8, 59))
	require.NoError(t, err)
	assert.Equal(t, ActionIdle, d.Action)

	d, err = loop.Tick(t.Context(), at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionStart, d.Action)
	require.Len(t, ctrl.starts, 1)
	assert.Equal(t, state.InitiatorScheduler, ctrl.starts[0].Initiator)
	assert.Equal(t, "morning", *ctrl.starts[0].ScheduleID)
	assert.Equal(t, "morning", *ctrl.sched.CurrentScheduleID)

	d, err = loop.Tick(t.Context(), at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)

	d, err = loop.Tick(t.Context(), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionStop, d.Action)
	assert.Equal(t, 1, ctrl.stops)
	assert.Nil(t, ctrl.sched.CurrentScheduleID)
	assert.Equal(t, "stop", ctrl.sched.LastAction)
	assert.Equal(t, at(10, 0), ctrl.sched.LastActionTime)
}

func TestTick_NeverStopsManualSession(t *testing.T) {
	ctrl := &fakeController{session: &state.Session{PID: 7, StartedBy: state.InitiatorManual}}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}))

	for _, now := range []time.Time{at(8, 0), at(9, 30), at(11, 0)} {
		d, err := loop.Tick(t.Context(), now)
		require.NoError(t, err)
		assert.Equal(t, ActionHoldManual, d.Action)
	}
	assert.Zero(t, ctrl.stops)
	assert.Empty(t, ctrl.starts)
	assert.Nil(t, ctrl.sched.CurrentScheduleID)
}

func TestTick_HandoffKeepsCapture(t *testing.T) {
	ctrl := &fakeController{}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{
		daily("first", "09:00", "10:00"),
		daily("second", "10:00", "11:00"),
	}))

	_, err := loop.Tick(t.Context(), at(9, 59))
	require.NoError(t, err)

	d, err := loop.Tick(t.Context(), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionHandoff, d.Action)
	assert.Equal(t, "second", *ctrl.sched.CurrentScheduleID)
	assert.Equal(t, "first", *d.PreviousScheduleID)
	assert.Len(t, ctrl.starts, 1)
	assert.Zero(t, ctrl.stops)
	assert.True(t, ctrl.IsActive())
}

func TestTick_MidnightWindow(t *testing.T) {
	ctrl := &fakeController{}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("night", "23:00", "01:00")}))

	d, err := loop.Tick(t.Context(), at(23, 30))
	require.NoError(t, err)
	assert.Equal(t, ActionStart, d.Action)

	d, err = loop.Tick(t.Context(), time.Date(2026, 10, 16, 0, 30, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)

	d, err = loop.Tick(t.Context(), time.Date(2026, 10, 16, 1, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, ActionStop, d.Action)
}

func TestTick_ClearsStaleOwnership(t *testing.T) {
	ctrl := &fakeController{sched: state.SchedulerState{CurrentScheduleID: state.ID("gone")}}
	loop := New(ctrl, schedule.NewSet(nil))

	d, err := loop.Tick(t.Context(), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionClear, d.Action)
	assert.Nil(t, ctrl.sched.CurrentScheduleID)
}

func TestTick_StartFailureIsErrorDecision(t *testing.T) {
	ctrl := &fakeController{startErr: stderrors.New("no frames")}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}),
		WithClock(clockwork.NewFakeClockAt(at(9, 15))))

	d, err := loop.Tick(t.Context(), at(9, 15))
	require.Error(t, err)
	assert.Equal(t, ActionError, d.Action)
	assert.Equal(t, "no frames", d.Error)
	assert.Equal(t, "error", ctrl.sched.LastAction)
	assert.Nil(t, ctrl.sched.CurrentScheduleID)

	// Run swallows the error.
	assert.Equal(t, ActionError, loop.Run(t.Context()).Action)
}

func TestTick_RestartsAfterManualStopInWindow(t *testing.T) {
	ctrl := &fakeController{}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}))

	_, err := loop.Tick(t.Context(), at(9, 0))
	require.NoError(t, err)
	_, err = ctrl.Stop(t.Context(), state.InitiatorManual)
	require.NoError(t, err)

	d, err := loop.Tick(t.Context(), at(9, 1))
	require.NoError(t, err)
	assert.Equal(t, ActionStart, d.Action)
	assert.Len(t, ctrl.starts, 2)
}

func TestTick_StartLosingToManualStartHoldsManual(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.interleave = ctrl.swapToManual
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}))

	d, err := loop.Tick(t.Context(), at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionHoldManual, d.Action)
	assert.Empty(t, d.Error)
	assert.Equal(t, "hold_manual", ctrl.sched.LastAction)
	assert.Nil(t, ctrl.sched.CurrentScheduleID)
	assert.Equal(t, state.InitiatorManual, ctrl.session.StartedBy)
}

func TestTick_ManualSessionStartedMidTickSurvives(t *testing.T) {
	tests := []struct {
		name  string
		rules []schedule.Rule
		owner string
		now   time.Time
		want  Action
	}{
		{
			name:  "stop at window end",
			rules: []schedule.Rule{daily("morning", "09:00", "10:00")},
			owner: "morning",
			now:   at(10, 0),
		},
		{
			name:  "hand-off between adjacent windows",
			rules: []schedule.Rule{daily("first", "09:00", "10:00"), daily("second", "10:00", "11:00")},
			owner: "first",
			now:   at(10, 0),
		},
		{
			name:  "release of stale ownership",
			rules: nil,
			owner: "gone",
			now:   at(12, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{sched: state.SchedulerState{CurrentScheduleID: state.ID(tt.owner)}}
			if tt.name != "release of stale ownership" {
				ctrl.session = &state.Session{PID: 1, StartedBy: state.InitiatorScheduler, ScheduleID: state.ID(tt.owner)}
			}
			ctrl.interleave = ctrl.swapToManual
			loop := New(ctrl, schedule.NewSet(tt.rules))

			d, err := loop.Tick(t.Context(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, ActionHoldManual, d.Action)
			assert.True(t, d.Recording)
			assert.Zero(t, ctrl.stops)
			require.NotNil(t, ctrl.session)
			assert.Equal(t, state.InitiatorManual, ctrl.session.StartedBy)
			assert.Nil(t, ctrl.sched.CurrentScheduleID)
		})
	}
}

// randomRule builds an enabled rule of any type whose window and calendar
// constraints are drawn from rng.
func randomRule(rng *rand.Rand, id int) schedule.Rule {
	clock := func() string { return fmt.Sprintf("%02d:%02d", rng.IntN(24), rng.IntN(60)) }
	r := schedule.Rule{
		ID:        fmt.Sprintf("rule-%d", id),
		Title:     fmt.Sprintf("Rule %d", id),
		Enabled:   true,
		StartTime: clock(),
		EndTime:   clock(),
	}
	switch rng.IntN(4) {
	case 0:
		r.Type = schedule.TypeDaily
	case 1:
		r.Type = schedule.TypeWeekly
		for range 1 + rng.IntN(7) {
			r.Weekdays = append(r.Weekdays, rng.IntN(7))
		}
	case 2:
		r.Type = schedule.TypeMonthly
		for range 1 + rng.IntN(5) {
			r.Monthdays = append(r.Monthdays, 1+rng.IntN(31))
		}
	default:
		r.Type = schedule.TypeOnce
		r.Date = time.Date(2026, 10, 1+rng.IntN(31), 0, 0, 0, 0, time.Local).Format(schedule.DateLayout)
	}
	return r
}

func randomRules(rng *rand.Rand) []schedule.Rule {
	rules := make([]schedule.Rule, 1+rng.IntN(5))
	for i := range rules {
		rules[i] = randomRule(rng, i)
	}
	return rules
}

func randomInstant(rng *rand.Rand) time.Time {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.Local)
	return base.Add(time.Duration(rng.IntN(31*24*60)) * time.Minute)
}

func TestTick_RandomRulesNeverTouchManualSession(t *testing.T) {
	rng := rand.New(rand.NewPCG(20261015, 7))

	for round := range 200 {
		rules := randomRules(rng)
		ctrl := &fakeController{session: &state.Session{PID: 7, StartedBy: state.InitiatorManual}}
		loop := New(ctrl, schedule.NewSet(rules))

		for range 25 {
			now := randomInstant(rng)
			d, err := loop.Tick(t.Context(), now)
			require.NoError(t, err, "round %d at %s", round, now)
			require.Equal(t, ActionHoldManual, d.Action, "round %d at %s with %+v", round, now, rules)
		}
		require.Zero(t, ctrl.stops, "round %d", round)
		require.Empty(t, ctrl.starts, "round %d", round)
		require.Nil(t, ctrl.sched.CurrentScheduleID, "round %d", round)
	}
}
