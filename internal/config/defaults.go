package config

import (
	"path/filepath"
	"time"
)

// Default values.
const (
	DefaultListen          = "127.0.0.1:8787"
	DefaultConfirmTimeout  = 30 * time.Second
	DefaultConfirmInterval = time.Second
	DefaultTickInterval    = 60 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultSampleDelay     = 3 * time.Second
	DefaultRetention       = 90 * 24 * time.Hour
)

// DefaultApplier applies defaults for one configuration section.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// ApplyDefaults runs every section applier in order.
func ApplyDefaults(cfg *Config) error {
	appliers := []DefaultApplier{
		&stateDefaults{},
		&captureDefaults{},
		&streamDefaults{},
		&scheduleDefaults{},
		&healthDefaults{},
		&httpDefaults{},
		&activityDefaults{},
		&notifyDefaults{},
		&metricsDefaults{},
		&thumbnailDefaults{},
	}
	for _, a := range appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

type stateDefaults struct{}

func (stateDefaults) Domain() string { return "state" }

func (stateDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.State.DataDir == "" {
		cfg.State.DataDir = "./data"
	}
	return nil
}

type captureDefaults struct{}

func (captureDefaults) Domain() string { return "capture" }

func (captureDefaults) ApplyDefaults(cfg *Config) error {
	c := &cfg.Capture
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(cfg.State.DataDir, "recordings")
	}
	if c.Container == "" {
		c.Container = "mp4"
	}
	if c.Extension == "" {
		c.Extension = c.Container
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "copy"
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "aac"
	}
	if c.FilenameLayout == "" {
		c.FilenameLayout = "2006-01-02_15-04-05"
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = Duration(DefaultConfirmTimeout)
	}
	if c.ConfirmInterval == 0 {
		c.ConfirmInterval = Duration(DefaultConfirmInterval)
	}
	if c.StopScale == 0 {
		c.StopScale = 1
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(cfg.State.DataDir, "logs")
	}
	return nil
}

type streamDefaults struct{}

func (streamDefaults) Domain() string { return "stream" }

func (streamDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Stream.ValidateTimeout == 0 {
		cfg.Stream.ValidateTimeout = Duration(10 * time.Second)
	}
	return nil
}

type scheduleDefaults struct{}

func (scheduleDefaults) Domain() string { return "schedule" }

func (scheduleDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Schedule.RulesFile == "" {
		cfg.Schedule.RulesFile = filepath.Join(cfg.State.DataDir, "schedules.json")
	}
	if cfg.Schedule.TickInterval == 0 {
		cfg.Schedule.TickInterval = Duration(DefaultTickInterval)
	}
	return nil
}

type healthDefaults struct{}

func (healthDefaults) Domain() string { return "health" }

func (healthDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = Duration(DefaultHealthInterval)
	}
	if cfg.Health.SampleDelay == 0 {
		cfg.Health.SampleDelay = Duration(DefaultSampleDelay)
	}
	return nil
}

type httpDefaults struct{}

func (httpDefaults) Domain() string { return "http" }

func (httpDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = DefaultListen
	}
	return nil
}

type activityDefaults struct{}

func (activityDefaults) Domain() string { return "activity" }

func (activityDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Activity.DBPath == "" {
		cfg.Activity.DBPath = filepath.Join(cfg.State.DataDir, "activity.db")
	}
	if cfg.Activity.Retention == 0 {
		cfg.Activity.Retention = Duration(DefaultRetention)
	}
	return nil
}

type notifyDefaults struct{}

func (notifyDefaults) Domain() string { return "notify" }

func (notifyDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "streamrec.change"
	}
	return nil
}

type metricsDefaults struct{}

func (metricsDefaults) Domain() string { return "metrics" }

func (metricsDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

type thumbnailDefaults struct{}

func (thumbnailDefaults) Domain() string { return "thumbnail" }

func (thumbnailDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Thumbnail.Offset == "" {
		cfg.Thumbnail.Offset = "00:00:05"
	}
	if cfg.Thumbnail.Dir == "" {
		cfg.Thumbnail.Dir = filepath.Join(cfg.Capture.OutputDir, "thumbnails")
	}
	return nil
}
