// Package media wraps the ffmpeg tools used around a recording: checking that a
// stream is reachable before capture, and grabbing a thumbnail afterwards.
package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// Validator reports whether a stream URL currently serves media.
type Validator interface {
	IsReachable(ctx context.Context, url string) bool
}

// Thumbnailer renders a still from a finished recording.
type Thumbnailer interface {
	Generate(ctx context.Context, videoPath, outPath string) error
}

// ProbeValidator asks ffprobe to list the stream's tracks.
type ProbeValidator struct {
	FFprobePath string
	Timeout     time.Duration
}

// NewProbeValidator returns a validator with a 10s default timeout.
func NewProbeValidator(ffprobePath string, timeout time.Duration) *ProbeValidator {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProbeValidator{FFprobePath: ffprobePath, Timeout: timeout}
}

// IsReachable returns true when ffprobe finds at least one stream.
func (v *ProbeValidator) IsReachable(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		url,
	}
	cmd := exec.CommandContext(ctx, v.FFprobePath, args...)
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// FFmpegThumbnailer extracts a single frame at Offset.
type FFmpegThumbnailer struct {
	FFmpegPath string
	// Offset is an ffmpeg timestamp such as "00:00:05".
	Offset  string
	Timeout time.Duration
}

// NewFFmpegThumbnailer returns a thumbnailer with defaults filled in.
func NewFFmpegThumbnailer(ffmpegPath, offset string) *FFmpegThumbnailer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if offset == "" {
		offset = "00:00:05"
	}
	return &FFmpegThumbnailer{FFmpegPath: ffmpegPath, Offset: offset, Timeout: 30 * time.Second}
}

// ThumbnailArgs builds the extraction arguments.
func (t *FFmpegThumbnailer) ThumbnailArgs(videoPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", t.Offset,
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	}
}

// Generate writes a thumbnail to outPath.
func (t *FFmpegThumbnailer) Generate(ctx context.Context, videoPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create thumbnail directory").Build()
	}
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.FFmpegPath, t.ThumbnailArgs(videoPath, outPath)...)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "thumbnail generation failed").
			WithSeverity(errors.SeverityWarning).
			WithContext("video", videoPath).
			WithContext("output", strings.TrimSpace(string(out))).
			Build()
	}
	return nil
}

// ThumbnailPath derives the thumbnail location for a recording.
func ThumbnailPath(dir, videoPath string) string {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	if dir == "" {
		dir = filepath.Dir(videoPath)
	}
	return filepath.Join(dir, base+".jpg")
}
