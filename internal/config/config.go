// Package config loads the streamrec configuration from a YAML file, optional
// .env files, and STREAMREC_* environment overrides.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Capture   CaptureConfig   `yaml:"capture"`
	State     StateConfig     `yaml:"state"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Health    HealthConfig    `yaml:"health"`
	HTTP      HTTPConfig      `yaml:"http"`
	Activity  ActivityConfig  `yaml:"activity"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
}

// StreamConfig describes the source stream.
type StreamConfig struct {
	URL                 string `yaml:"url"`
	ValidateBeforeStart bool   `yaml:"validate_before_start"`
	// ValidateTimeout bounds the reachability probe.
	ValidateTimeout Duration `yaml:"validate_timeout"`
}

// CaptureConfig configures the capture subprocess and its confirmation.
type CaptureConfig struct {
	FFmpegPath      string   `yaml:"ffmpeg_path"`
	FFprobePath     string   `yaml:"ffprobe_path"`
	OutputDir       string   `yaml:"output_dir"`
	Container       string   `yaml:"container"`
	Extension       string   `yaml:"extension"`
	VideoCodec      string   `yaml:"video_codec"`
	AudioCodec      string   `yaml:"audio_codec"`
	ExtraInputArgs  []string `yaml:"extra_input_args"`
	ExtraOutputArgs []string `yaml:"extra_output_args"`
	FilenameLayout  string   `yaml:"filename_layout"`
	ConfirmTimeout  Duration `yaml:"confirm_timeout"`
	ConfirmInterval Duration `yaml:"confirm_interval"`
	// StopScale multiplies every termination phase timeout.
	StopScale float64 `yaml:"stop_scale"`
	// LogDir receives the stderr of each capture.
	LogDir string `yaml:"log_dir"`
}

// StateConfig locates persisted state.
type StateConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ScheduleConfig configures the control loop.
type ScheduleConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	RulesFile    string   `yaml:"rules_file"`
	TickInterval Duration `yaml:"tick_interval"`
	Watch        *bool    `yaml:"watch"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval    Duration `yaml:"interval"`
	SampleDelay Duration `yaml:"sample_delay"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"`
}

// ActivityConfig configures the activity log.
type ActivityConfig struct {
	DBPath    string   `yaml:"db_path"`
	Retention Duration `yaml:"retention"`
}

// NotifyConfig configures change publication.
type NotifyConfig struct {
	NATSURL  string `yaml:"nats_url"`
	Subject  string `yaml:"subject"`
	KVBucket string `yaml:"kv_bucket"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ThumbnailConfig configures post-stop thumbnails.
type ThumbnailConfig struct {
	Enabled bool   `yaml:"enabled"`
	Offset  string `yaml:"offset"`
	Dir     string `yaml:"dir"`
}

// ScheduleEnabled reports whether the control loop runs.
func (c *Config) ScheduleEnabled() bool {
	return c.Schedule.Enabled == nil || *c.Schedule.Enabled
}

// WatchRules reports whether the rules file is watched for changes.
func (c *Config) WatchRules() bool {
	return c.Schedule.Watch == nil || *c.Schedule.Watch
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

// D returns the standard library value.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.Decode(s)
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Decode parses a duration string.
func (d *Duration) Decode(value string) error {
	if value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}
