package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

var (
	mockFFmpeg  = filepath.Join("testdata", "mock_ffmpeg.sh")
	mockFFprobe = filepath.Join("testdata", "mock_ffprobe.sh")
)

func fastStop() []Phase {
	return ScalePhases(StopPhases(), 0.2)
}

func TestArgs_OutputLast(t *testing.T) {
	l := NewLauncher(Config{
		FFmpegPath:      "ffmpeg",
		Format:          "mp4",
		VideoCodec:      "copy",
		AudioCodec:      "aac",
		ExtraInputArgs:  []string{"-rw_timeout", "5000000"},
		ExtraOutputArgs: []string{"-metadata", "title=x"},
	})

	args := l.Args("rtmp://cam/live", "/rec/out.mp4")
	assert.Equal(t, "/rec/out.mp4", args[len(args)-1])
	assert.Subset(t, args, []string{"-rw_timeout", "5000000", "-i", "rtmp://cam/live", "-c:v", "copy", "-c:a", "aac", "-movflags", "-f", "mp4"})

	out, ok := OutputFromArgs(append([]string{"ffmpeg"}, args...))
	require.True(t, ok)
	assert.Equal(t, "/rec/out.mp4", out)

	_, ok = OutputFromArgs([]string{"ffmpeg", "-version"})
	assert.False(t, ok)
	_, ok = OutputFromArgs([]string{"ffmpeg"})
	assert.False(t, ok)
}

func TestLaunchProbeAndStop(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "rec", "capture.mp4")
	l := NewLauncher(Config{FFmpegPath: mockFFmpeg, Format: "mp4"})

	proc, err := l.Launch(t.Context(), "rtmp://cam/live", out)
	require.NoError(t, err)
	require.True(t, proc.Alive())
	assert.True(t, PIDAlive(proc.PID()))

	prober := NewFFprobe(mockFFprobe)
	require.Eventually(t, func() bool {
		ok, err := prober.HasFrames(t.Context(), out)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)

	report := Terminate(t.Context(), proc, fastStop())
	require.True(t, report.Exited)
	assert.Equal(t, "wake_and_interrupt", report.Phase)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, "SIGINT", report.Steps[0].Signal)
	assert.False(t, report.Steps[0].Alive)
	assert.False(t, proc.Alive())
}

func TestTerminateEscalatesToKill(t *testing.T) {
	t.Setenv("MOCK_FFMPEG_IGNORE_INT", "1")
	out := filepath.Join(t.TempDir(), "stubborn.mp4")
	l := NewLauncher(Config{FFmpegPath: mockFFmpeg})

	proc, err := l.Launch(t.Context(), "rtmp://cam/live", out)
	require.NoError(t, err)
	// give bash time to install its traps
	time.Sleep(200 * time.Millisecond)

	report := Terminate(t.Context(), proc, fastStop())
	require.True(t, report.Exited)
	assert.Equal(t, "kill", report.Phase)
	require.Len(t, report.Steps, 4)
	for _, step := range report.Steps[:3] {
		assert.True(t, step.Alive, step.Phase)
	}
	assert.Equal(t, "SIGKILL", report.Steps[3].Signal)
	assert.False(t, report.Steps[3].Alive)
}

func TestTerminateAttachedProcess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "adopted.mp4")
	l := NewLauncher(Config{FFmpegPath: mockFFmpeg})

	child, err := l.Launch(t.Context(), "rtmp://cam/live", out)
	require.NoError(t, err)

	attached := Attach(child.PID())
	assert.Nil(t, attached.Done())
	assert.True(t, attached.Alive())

	report := Terminate(t.Context(), attached, KillPhases())
	assert.True(t, report.Exited)
	require.Eventually(t, func() bool { return !child.Alive() }, 2*time.Second, 20*time.Millisecond)
}

func TestTerminateAlreadyExited(t *testing.T) {
	t.Setenv("MOCK_FFMPEG_EXIT", "0")
	l := NewLauncher(Config{FFmpegPath: mockFFmpeg})
	proc, err := l.Launch(t.Context(), "rtmp://cam/live", filepath.Join(t.TempDir(), "x.mp4"))
	require.NoError(t, err)
	<-proc.Done()

	report := Terminate(t.Context(), proc, StopPhases())
	assert.True(t, report.Exited)
	assert.Empty(t, report.Steps)
}

func TestEarlyExitLaunchFailure(t *testing.T) {
	t.Setenv("MOCK_FFMPEG_EXIT", "3")
	logDir := t.TempDir()
	l := NewLauncher(Config{FFmpegPath: mockFFmpeg, LogDir: logDir})

	proc, err := l.Launch(t.Context(), "rtmp://bad/url", filepath.Join(t.TempDir(), "x.mp4"))
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("mock did not exit")
	}
	require.Error(t, proc.ExitErr())

	failure := LaunchFailure(proc)
	assert.True(t, errors.HasCategory(failure, errors.CategoryLaunch))
	classified, ok := errors.AsClassified(failure)
	require.True(t, ok)
	tail, _ := classified.Context().GetString("stderr")
	assert.Contains(t, tail, "failing on purpose")
}

func TestLaunchMissingBinary(t *testing.T) {
	l := NewLauncher(Config{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")})
	_, err := l.Launch(t.Context(), "rtmp://cam/live", filepath.Join(t.TempDir(), "x.mp4"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLaunch))
}

func TestHasFrames(t *testing.T) {
	dir := t.TempDir()
	prober := NewFFprobe(mockFFprobe)

	ok, err := prober.HasFrames(t.Context(), filepath.Join(dir, "missing.mp4"))
	require.NoError(t, err)
	assert.False(t, ok)

	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	ok, err = prober.HasFrames(t.Context(), empty)
	require.NoError(t, err)
	assert.False(t, ok)

	full := filepath.Join(dir, "full.mp4")
	require.NoError(t, os.WriteFile(full, []byte("frames"), 0o600))
	ok, err = prober.HasFrames(t.Context(), full)
	require.NoError(t, err)
	assert.True(t, ok)

	missing := NewFFprobe(filepath.Join(dir, "no-ffprobe"))
	_, err = missing.HasFrames(t.Context(), full)
	assert.True(t, errors.HasCategory(err, errors.CategoryLaunch))
}

func TestPIDAlive(t *testing.T) {
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-1))
	assert.True(t, PIDAlive(os.Getpid()))
}
