package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/capture"
)

// DefaultFilenameLayout names recordings after their start time.
const DefaultFilenameLayout = "2006-01-02_15-04-05"

// Config holds the supervisor's tunables.
type Config struct {
	OutputDir        string
	Extension        string
	FilenameLayout   string
	DefaultStreamURL string
	ValidateStream   bool
	ConfirmTimeout   time.Duration
	ConfirmInterval  time.Duration
	StopPhases       []capture.Phase
	KillPhases       []capture.Phase
	Thumbnails       bool
	ThumbnailDir     string
}

func (c Config) withDefaults() Config {
	if c.Extension == "" {
		c.Extension = "mp4"
	}
	if c.FilenameLayout == "" {
		c.FilenameLayout = DefaultFilenameLayout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = time.Second
	}
	if len(c.StopPhases) == 0 {
		c.StopPhases = capture.StopPhases()
	}
	if len(c.KillPhases) == 0 {
		c.KillPhases = capture.KillPhases()
	}
	return c
}

// OutputPath derives the recording path from its start time. An existing file is
// never reused; a numeric suffix is added instead.
func (c Config) OutputPath(startedAt time.Time) string {
	base := startedAt.Format(c.FilenameLayout)
	path := filepath.Join(c.OutputDir, base+"."+c.Extension)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(c.OutputDir, fmt.Sprintf("%s-%d.%s", base, i, c.Extension))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
