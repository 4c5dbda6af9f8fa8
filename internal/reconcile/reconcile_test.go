package reconcile

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

type fakeTable struct {
	procs []ProcInfo
	dead  map[int]bool
}

func (f *fakeTable) List(context.Context) ([]ProcInfo, error) { return f.procs, nil }

func (f *fakeTable) Exists(_ context.Context, pid int) (bool, error) {
	if f.dead[pid] {
		return false, nil
	}
	for _, p := range f.procs {
		if p.PID == pid {
			return true, nil
		}
	}
	return false, nil
}

type killLog struct {
	mu   sync.Mutex
	pids []int
}

func (k *killLog) kill(_ context.Context, pid int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pids = append(k.pids, pid)
	return true
}

const outDir = "/srv/recordings"

func ffmpegProc(pid int, name string, created time.Time) ProcInfo {
	return ProcInfo{
		PID:        pid,
		Args:       []string{"/usr/bin/ffmpeg", "-hide_banner", "-i", "rtmp://cam/live", "-c:v", "copy", "-f", "mp4", filepath.Join(outDir, name)},
		CreateTime: created,
	}
}

var base = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, table *fakeTable) (*Reconciler, *supervisor.Supervisor, state.Store, *killLog) {
	t.Helper()
	store, err := state.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(base.Add(time.Hour))
	sup := supervisor.New(supervisor.Config{OutputDir: outDir}, supervisor.Deps{
		Store:        store,
		Clock:        clock,
		ProcessAlive: func(pid int) bool { return !table.dead[pid] },
	})
	kills := &killLog{}
	r := New(Config{Binary: "ffmpeg", OutputDir: outDir}, sup, table, WithKiller(kills.kill), WithClock(clock))
	return r, sup, store, kills
}

func TestMatches(t *testing.T) {
	r := New(Config{Binary: "/opt/bin/ffmpeg", OutputDir: outDir}, nil, &fakeTable{})

	assert.True(t, r.Matches(ffmpegProc(1, "a.mp4", base).Args))
	assert.True(t, r.Matches([]string{"bash", "/opt/bin/ffmpeg", "-i", "x", filepath.Join(outDir, "sub", "b.mp4")}))
	assert.False(t, r.Matches([]string{"ffmpeg", "-i", "x", "/tmp/elsewhere.mp4"}))
	assert.False(t, r.Matches([]string{"ffmpeg", "-i", "x", "/srv/recordings-other/a.mp4"}))
	assert.False(t, r.Matches([]string{"ffprobe", "-i", filepath.Join(outDir, "a.mp4")}))
	assert.False(t, r.Matches([]string{"ffmpeg"}))
}

func TestReconcile_AdoptsNewestOrphanAndKillsRest(t *testing.T) {
	table := &fakeTable{procs: []ProcInfo{
		ffmpegProc(100, "old.mp4", base),
		ffmpegProc(200, "new.mp4", base.Add(10*time.Minute)),
		{PID: 300, Args: []string{"vim", "notes.txt"}},
	}}
	r, sup, _, kills := newTestReconciler(t, table)

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	require.NotNil(t, report.Adopted)
	assert.Equal(t, 200, report.Adopted.PID)
	assert.Equal(t, filepath.Join(outDir, "new.mp4"), report.Adopted.OutputPath)
	assert.Equal(t, "rtmp://cam/live", report.Adopted.StreamURL)
	assert.Equal(t, base.Add(10*time.Minute), report.Adopted.StartedAt)
	assert.Equal(t, state.InitiatorManual, report.Adopted.StartedBy)
	assert.Nil(t, report.Adopted.ScheduleID)
	assert.Equal(t, []int{100}, kills.pids)
	assert.True(t, report.Changed())

	sess, ok := sup.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, 200, sess.PID)
	assert.True(t, sess.Adopted)
}

func TestReconcile_SkipsCaptureThatExitedAfterListing(t *testing.T) {
	table := &fakeTable{
		procs: []ProcInfo{
			ffmpegProc(100, "old.mp4", base),
			ffmpegProc(200, "new.mp4", base.Add(10*time.Minute)),
		},
		dead: map[int]bool{200: true},
	}
	r, sup, _, kills := newTestReconciler(t, table)

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	require.NotNil(t, report.Adopted)
	assert.Equal(t, 100, report.Adopted.PID)
	assert.Equal(t, []int{200}, report.Refused)
	assert.Empty(t, kills.pids)

	sess, ok := sup.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, 100, sess.PID)
}

func TestReconcile_NoLiveCaptureAdoptsNothing(t *testing.T) {
	table := &fakeTable{
		procs: []ProcInfo{ffmpegProc(200, "gone.mp4", base)},
		dead:  map[int]bool{200: true},
	}
	r, sup, _, kills := newTestReconciler(t, table)

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Nil(t, report.Adopted)
	assert.Equal(t, []int{200}, report.Refused)
	assert.Empty(t, kills.pids)
	assert.False(t, report.Changed())
	assert.False(t, sup.IsActive())
}

func TestReconcile_AdoptionRestoresSchedulerOwnership(t *testing.T) {
	table := &fakeTable{procs: []ProcInfo{ffmpegProc(100, "a.mp4", time.Time{})}}
	r, _, store, _ := newTestReconciler(t, table)
	require.NoError(t, store.Update(func(s *state.Snapshot) { s.Scheduler.CurrentScheduleID = state.ID("evening") }))

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	require.NotNil(t, report.Adopted)
	assert.Equal(t, state.InitiatorScheduler, report.Adopted.StartedBy)
	require.NotNil(t, report.Adopted.ScheduleID)
	assert.Equal(t, "evening", *report.Adopted.ScheduleID)
	// No create time: falls back to now.
	assert.Equal(t, base.Add(time.Hour), report.Adopted.StartedAt)
}

func TestReconcile_ClearsStaleSession(t *testing.T) {
	table := &fakeTable{dead: map[int]bool{4242: true}}
	r, sup, store, kills := newTestReconciler(t, table)
	require.NoError(t, store.Update(func(s *state.Snapshot) {
		s.Session = &state.Session{ID: "s1", PID: 4242, OutputPath: filepath.Join(outDir, "x.mp4"), StartedBy: state.InitiatorAPI}
	}))

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4242, report.ClearedPID)
	assert.Nil(t, report.Adopted)
	assert.Empty(t, kills.pids)
	assert.False(t, sup.IsActive())
}

func TestReconcile_ClearsStaleThenAdopts(t *testing.T) {
	table := &fakeTable{
		procs: []ProcInfo{ffmpegProc(500, "b.mp4", base)},
		dead:  map[int]bool{4242: true},
	}
	r, sup, store, _ := newTestReconciler(t, table)
	require.NoError(t, store.Update(func(s *state.Snapshot) {
		s.Session = &state.Session{ID: "s1", PID: 4242, OutputPath: filepath.Join(outDir, "x.mp4")}
	}))

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4242, report.ClearedPID)
	require.NotNil(t, report.Adopted)
	sess, _ := sup.CurrentSession()
	assert.Equal(t, 500, sess.PID)
}

func TestReconcile_ReusedPIDIsStale(t *testing.T) {
	table := &fakeTable{procs: []ProcInfo{{PID: 4242, Args: []string{"nginx", "-g", "daemon off;"}}}}
	r, sup, store, kills := newTestReconciler(t, table)
	require.NoError(t, store.Update(func(s *state.Snapshot) {
		s.Session = &state.Session{ID: "s1", PID: 4242, OutputPath: filepath.Join(outDir, "x.mp4")}
	}))

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4242, report.ClearedPID)
	assert.Empty(t, kills.pids)
	assert.False(t, sup.IsActive())
}

func TestReconcile_KillsLeaksBesideTrackedSession(t *testing.T) {
	table := &fakeTable{procs: []ProcInfo{
		ffmpegProc(4242, "tracked.mp4", base),
		ffmpegProc(777, "leak.mp4", base.Add(-time.Hour)),
	}}
	r, sup, store, kills := newTestReconciler(t, table)
	require.NoError(t, store.Update(func(s *state.Snapshot) {
		s.Session = &state.Session{ID: "s1", PID: 4242, OutputPath: filepath.Join(outDir, "tracked.mp4")}
	}))

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []int{777}, report.Killed)
	assert.Equal(t, []int{777}, kills.pids)
	assert.Zero(t, report.ClearedPID)
	sess, ok := sup.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, 4242, sess.PID)
}

func TestReconcile_NothingToDo(t *testing.T) {
	r, _, _, _ := newTestReconciler(t, &fakeTable{})
	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestGopsutilTable_SeesChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	var table GopsutilTable
	exists, err := table.Exists(t.Context(), cmd.Process.Pid)
	require.NoError(t, err)
	assert.True(t, exists)

	procs, err := table.List(t.Context())
	require.NoError(t, err)
	var found *ProcInfo
	for i := range procs {
		if procs[i].PID == cmd.Process.Pid {
			found = &procs[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"sleep", "30"}, found.Args)
	assert.False(t, found.CreateTime.IsZero())
}

// notifyingLauncher reports each launched pid.
type notifyingLauncher struct {
	inner    *capture.Launcher
	launched chan int
}

func (l notifyingLauncher) Launch(ctx context.Context, url, out string) (*capture.Process, error) {
	p, err := l.inner.Launch(ctx, url, out)
	if err == nil {
		l.launched <- p.PID()
	}
	return p, err
}

func TestReconcile_OverlappingFailedStartAdoptsNothing(t *testing.T) {
	t.Setenv("MOCK_FFMPEG_NO_OUTPUT", "1")
	ffmpeg, err := filepath.Abs(filepath.Join("..", "supervisor", "testdata", "mock_ffmpeg.sh"))
	require.NoError(t, err)
	ffprobe, err := filepath.Abs(filepath.Join("..", "supervisor", "testdata", "mock_ffprobe.sh"))
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := state.NewJSONStore(filepath.Join(dir, "state"))
	require.NoError(t, err)
	launcher := notifyingLauncher{
		inner:    capture.NewLauncher(capture.Config{FFmpegPath: ffmpeg, Format: "mp4"}),
		launched: make(chan int, 1),
	}
	sup := supervisor.New(supervisor.Config{
		OutputDir:        dir,
		DefaultStreamURL: "rtmp://cam/live",
		ConfirmTimeout:   1500 * time.Millisecond,
		ConfirmInterval:  50 * time.Millisecond,
	}, supervisor.Deps{
		Store:    store,
		Launcher: launcher,
		Prober:   capture.NewFFprobe(ffprobe),
	})
	var table GopsutilTable
	r := New(Config{Binary: ffmpeg, OutputDir: dir}, sup, table)

	errc := make(chan error, 1)
	go func() {
		_, err := sup.Start(context.Background(), supervisor.StartRequest{Initiator: state.InitiatorAPI})
		errc <- err
	}()
	pid := <-launcher.launched

	// The capture is listed while the start still holds the supervisor.
	require.Eventually(t, func() bool {
		procs, err := table.List(t.Context())
		if err != nil {
			return false
		}
		for _, p := range procs {
			if p.PID == pid && r.Matches(p.Args) {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	report, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	require.ErrorIs(t, <-errc, supervisor.ErrNoFramesDetected)

	assert.Nil(t, report.Adopted)
	assert.Contains(t, report.Refused, pid)
	assert.Empty(t, report.Killed)
	assert.False(t, sup.IsActive())
	assert.False(t, capture.PIDAlive(pid))
}
