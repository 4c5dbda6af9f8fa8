package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
)

// Config holds the encoder parameters. They are passed through, not interpreted.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// Format is the output container (mp4, mkv, ts, ...).
	Format          string
	VideoCodec      string
	AudioCodec      string
	ExtraInputArgs  []string
	ExtraOutputArgs []string
	// LogDir receives one stderr log per capture. Empty discards stderr.
	LogDir string
}

// DefaultConfig returns stream-copy settings writing fragmented MP4.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Format:      "mp4",
		VideoCodec:  "copy",
		AudioCodec:  "copy",
	}
}

// Launcher starts capture processes.
type Launcher struct {
	cfg Config
}

// NewLauncher creates a launcher for cfg.
func NewLauncher(cfg Config) *Launcher {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Launcher{cfg: cfg}
}

// Args builds the ffmpeg argument list. Order matters: input options, input,
// output options, output path last.
func (l *Launcher) Args(streamURL, outputPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	args = append(args, l.cfg.ExtraInputArgs...)
	args = append(args, "-i", streamURL)

	if l.cfg.VideoCodec != "" {
		args = append(args, "-c:v", l.cfg.VideoCodec)
	}
	if l.cfg.AudioCodec != "" {
		args = append(args, "-c:a", l.cfg.AudioCodec)
	}
	if l.cfg.Format == "mp4" {
		// Fragmented MP4 stays playable when the process is killed.
		args = append(args, "-movflags", "+frag_keyframe+empty_moov")
	}
	args = append(args, l.cfg.ExtraOutputArgs...)
	if l.cfg.Format != "" {
		args = append(args, "-f", l.cfg.Format)
	}
	return append(args, outputPath)
}

// OutputFromArgs recovers the output path from a capture command line.
func OutputFromArgs(args []string) (string, bool) {
	if len(args) < 2 {
		return "", false
	}
	out := args[len(args)-1]
	if out == "" || strings.HasPrefix(out, "-") {
		return "", false
	}
	return out, true
}

// Launch starts the capture detached from the caller: it runs in its own process
// group and is not bound to ctx, so it survives the request that started it.
func (l *Launcher) Launch(ctx context.Context, streamURL, outputPath string) (*Process, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, errors.WrapError(err, errors.CategoryLaunch, "failed to create output directory").
			WithContext("output_path", outputPath).
			Build()
	}

	slog.DebugContext(ctx, "Launching capture", slog.String("command", l.String(streamURL, outputPath)))

	cmd := exec.Command(l.cfg.FFmpegPath, l.Args(streamURL, outputPath)...)
	// create process group to ensure all processes are signaled together
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logPath string
	if l.cfg.LogDir != "" {
		if err := os.MkdirAll(l.cfg.LogDir, 0o755); err == nil {
			logPath = filepath.Join(l.cfg.LogDir, filepath.Base(outputPath)+".log")
			if f, err := os.Create(logPath); err == nil {
				cmd.Stderr = f
				defer f.Close()
			} else {
				logPath = ""
			}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryLaunch, "failed to start capture process").
			WithContext("binary", l.cfg.FFmpegPath).
			Build()
	}

	proc := newChildProcess(cmd, logPath)
	slog.InfoContext(ctx, "Capture process launched",
		logfields.PID(proc.PID()),
		logfields.OutputPath(outputPath))
	return proc, nil
}

// LaunchFailure builds the error for a capture that exited before confirmation.
func LaunchFailure(proc *Process) error {
	b := errors.WrapError(proc.ExitErr(), errors.CategoryLaunch, "capture process exited during startup").
		WithContext("pid", proc.PID())
	if tail := proc.LogTail(512); tail != "" {
		b = b.WithContext("stderr", tail)
	}
	return b.Build()
}

// String renders a command line for logs.
func (l *Launcher) String(streamURL, outputPath string) string {
	return fmt.Sprintf("%s %s", l.cfg.FFmpegPath, strings.Join(l.Args(streamURL, outputPath), " "))
}
