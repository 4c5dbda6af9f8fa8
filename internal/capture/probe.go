package capture

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// FrameProber answers whether a capture output already contains frames.
type FrameProber interface {
	HasFrames(ctx context.Context, path string) (bool, error)
}

// FFprobe implements FrameProber by counting video packets with ffprobe.
type FFprobe struct {
	Path string
}

// NewFFprobe returns a prober using binary path.
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{Path: path}
}

// ProbeArgs builds the ffprobe arguments used to count packets in path.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		path,
	}
}

// HasFrames reports true once the file exists, is non-empty, and ffprobe reads at
// least one video packet from it. A file that cannot be parsed yet is not an error.
func (f *FFprobe) HasFrames(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false, nil
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, ProbeArgs(path)...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if stderrors.As(err, &execErr) {
			return false, errors.WrapError(err, errors.CategoryLaunch, "frame probe binary unavailable").
				WithContext("binary", f.Path).
				Build()
		}
		return false, nil
	}

	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(line), ","))
		if err == nil && n > 0 {
			return true, nil
		}
	}
	return false, nil
}
