package scheduler

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

type activityEntry struct{ user, action, subject string }

type activityLog struct {
	mu      sync.Mutex
	entries []activityEntry
}

func (a *activityLog) LogActivity(_ context.Context, user, action, subject string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, activityEntry{user, action, subject})
	return nil
}

func (a *activityLog) snapshot() []activityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]activityEntry(nil), a.entries...)
}

// newSupervisor builds a real supervisor around the capture stand-in scripts.
func newSupervisor(t *testing.T, log activity.Logger) *supervisor.Supervisor {
	t.Helper()
	ffmpeg, err := filepath.Abs(filepath.Join("..", "supervisor", "testdata", "mock_ffmpeg.sh"))
	require.NoError(t, err)
	ffprobe, err := filepath.Abs(filepath.Join("..", "supervisor", "testdata", "mock_ffprobe.sh"))
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := state.NewJSONStore(filepath.Join(dir, "state"))
	require.NoError(t, err)

	sup := supervisor.New(supervisor.Config{
		OutputDir:        dir,
		DefaultStreamURL: "rtmp://cam/live",
		ConfirmTimeout:   3 * time.Second,
		ConfirmInterval:  50 * time.Millisecond,
		StopPhases:       capture.ScalePhases(capture.StopPhases(), 0.2),
	}, supervisor.Deps{
		Store:    store,
		Launcher: capture.NewLauncher(capture.Config{FFmpegPath: ffmpeg, Format: "mp4"}),
		Prober:   capture.NewFFprobe(ffprobe),
		Activity: log,
	})
	t.Cleanup(func() {
		_, _ = sup.Stop(context.Background(), state.InitiatorManual)
		sup.Wait()
	})
	return sup
}

// manualSwapController replaces the running session with a manual one right
// before each conditional call reaches the supervisor.
type manualSwapController struct {
	*supervisor.Supervisor
	t      *testing.T
	manual *state.Session
}

func (c *manualSwapController) swap(ctx context.Context) {
	_, err := c.Supervisor.Stop(ctx, state.InitiatorManual)
	require.NoError(c.t, err)
	res, err := c.Supervisor.Start(ctx, supervisor.StartRequest{Initiator: state.InitiatorManual})
	require.NoError(c.t, err)
	c.manual = res.Session
}

func (c *manualSwapController) StopOwned(ctx context.Context, scheduleID string) (supervisor.Result, error) {
	c.swap(ctx)
	return c.Supervisor.StopOwned(ctx, scheduleID)
}

func (c *manualSwapController) HandOff(ctx context.Context, from, to string) (bool, error) {
	c.swap(ctx)
	return c.Supervisor.HandOff(ctx, from, to)
}

func TestTick_ManualRestartBetweenReadAndStopSurvives(t *testing.T) {
	sup := newSupervisor(t, nil)
	ctrl := &manualSwapController{Supervisor: sup, t: t}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{daily("morning", "09:00", "10:00")}))

	d, err := loop.Tick(t.Context(), at(9, 0))
	require.NoError(t, err)
	require.Equal(t, ActionStart, d.Action)

	d, err = loop.Tick(t.Context(), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionHoldManual, d.Action)

	sess, ok := sup.CurrentSession()
	require.True(t, ok, "manual session must still be recorded")
	require.NotNil(t, ctrl.manual)
	assert.Equal(t, ctrl.manual.ID, sess.ID)
	assert.Equal(t, state.InitiatorManual, sess.StartedBy)
	assert.True(t, capture.PIDAlive(sess.PID))
	assert.Nil(t, sup.SchedulerState().CurrentScheduleID)
}

func TestTick_ManualRestartBetweenReadAndHandOffSurvives(t *testing.T) {
	sup := newSupervisor(t, nil)
	ctrl := &manualSwapController{Supervisor: sup, t: t}
	loop := New(ctrl, schedule.NewSet([]schedule.Rule{
		daily("first", "09:00", "10:00"),
		daily("second", "10:00", "11:00"),
	}))

	_, err := loop.Tick(t.Context(), at(9, 30))
	require.NoError(t, err)

	d, err := loop.Tick(t.Context(), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionHoldManual, d.Action)
	assert.Nil(t, sup.SchedulerState().CurrentScheduleID, "manual session must not gain a schedule owner")

	d, err = loop.Tick(t.Context(), at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, ActionHoldManual, d.Action)

	sess, ok := sup.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, ctrl.manual.ID, sess.ID)
	assert.True(t, capture.PIDAlive(sess.PID))
}

func TestTick_ConcurrentTicksNeverStopManualSessions(t *testing.T) {
	log := &activityLog{}
	sup := newSupervisor(t, log)
	rng := rand.New(rand.NewPCG(42, 1015))

	var wg sync.WaitGroup
	for worker := range 3 {
		rules := randomRules(rng)
		rules = append(rules, daily("always", "00:00", "23:59"))
		seed := rng.Uint64()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, uint64(worker)))
			set := schedule.NewSet(rules)
			loop := New(sup, set)
			for range 15 {
				if r.IntN(3) == 0 {
					set.Replace(nil)
				} else {
					set.Replace(rules)
				}
				_, _ = loop.Tick(context.Background(), randomInstant(r))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 4 {
			_, _ = sup.Stop(context.Background(), state.InitiatorManual)
			_, _ = sup.Start(context.Background(), supervisor.StartRequest{Initiator: state.InitiatorManual})
			time.Sleep(20 * time.Millisecond)
		}
	}()
	wg.Wait()

	startedBy := make(map[string]string)
	for _, e := range log.snapshot() {
		switch e.action {
		case activity.ActionRecordingStarted:
			startedBy[e.subject] = e.user
		case activity.ActionRecordingStopped:
			if e.user == string(state.InitiatorScheduler) {
				assert.Equal(t, string(state.InitiatorScheduler), startedBy[e.subject],
					"scheduler stopped %s which it did not start", e.subject)
			}
		}
	}
	assert.NotEmpty(t, startedBy)

	if sess, ok := sup.CurrentSession(); ok && sess.StartedBy == state.InitiatorManual {
		assert.Nil(t, sup.SchedulerState().CurrentScheduleID)
	}
}
