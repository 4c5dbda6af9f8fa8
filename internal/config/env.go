package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists every setting that may be overridden from the environment.
// Unset variables leave the file value untouched.
type envOverrides struct {
	StreamURL        *string        `envconfig:"STREAMREC_STREAM_URL"`
	StreamValidate   *bool          `envconfig:"STREAMREC_STREAM_VALIDATE_BEFORE_START"`
	FFmpegPath       *string        `envconfig:"STREAMREC_CAPTURE_FFMPEG_PATH"`
	FFprobePath      *string        `envconfig:"STREAMREC_CAPTURE_FFPROBE_PATH"`
	OutputDir        *string        `envconfig:"STREAMREC_CAPTURE_OUTPUT_DIR"`
	Container        *string        `envconfig:"STREAMREC_CAPTURE_CONTAINER"`
	VideoCodec       *string        `envconfig:"STREAMREC_CAPTURE_VIDEO_CODEC"`
	AudioCodec       *string        `envconfig:"STREAMREC_CAPTURE_AUDIO_CODEC"`
	ExtraInputArgs   []string       `envconfig:"STREAMREC_CAPTURE_EXTRA_INPUT_ARGS"`
	ExtraOutputArgs  []string       `envconfig:"STREAMREC_CAPTURE_EXTRA_OUTPUT_ARGS"`
	ConfirmTimeout   *time.Duration `envconfig:"STREAMREC_CAPTURE_CONFIRM_TIMEOUT"`
	ConfirmInterval  *time.Duration `envconfig:"STREAMREC_CAPTURE_CONFIRM_INTERVAL"`
	DataDir          *string        `envconfig:"STREAMREC_STATE_DATA_DIR"`
	ScheduleEnabled  *bool          `envconfig:"STREAMREC_SCHEDULE_ENABLED"`
	RulesFile        *string        `envconfig:"STREAMREC_SCHEDULE_RULES_FILE"`
	TickInterval     *time.Duration `envconfig:"STREAMREC_SCHEDULE_TICK_INTERVAL"`
	HealthInterval   *time.Duration `envconfig:"STREAMREC_HEALTH_INTERVAL"`
	SampleDelay      *time.Duration `envconfig:"STREAMREC_HEALTH_SAMPLE_DELAY"`
	Listen           *string        `envconfig:"STREAMREC_HTTP_LISTEN"`
	APIKey           *string        `envconfig:"STREAMREC_HTTP_API_KEY"`
	ActivityDB       *string        `envconfig:"STREAMREC_ACTIVITY_DB_PATH"`
	NATSURL          *string        `envconfig:"STREAMREC_NOTIFY_NATS_URL"`
	MetricsEnabled   *bool          `envconfig:"STREAMREC_METRICS_ENABLED"`
	ThumbnailEnabled *bool          `envconfig:"STREAMREC_THUMBNAIL_ENABLED"`
}

func applyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return err
	}

	setString(&cfg.Stream.URL, ov.StreamURL)
	setBool(&cfg.Stream.ValidateBeforeStart, ov.StreamValidate)
	setString(&cfg.Capture.FFmpegPath, ov.FFmpegPath)
	setString(&cfg.Capture.FFprobePath, ov.FFprobePath)
	setString(&cfg.Capture.OutputDir, ov.OutputDir)
	setString(&cfg.Capture.Container, ov.Container)
	setString(&cfg.Capture.VideoCodec, ov.VideoCodec)
	setString(&cfg.Capture.AudioCodec, ov.AudioCodec)
	if ov.ExtraInputArgs != nil {
		cfg.Capture.ExtraInputArgs = ov.ExtraInputArgs
	}
	if ov.ExtraOutputArgs != nil {
		cfg.Capture.ExtraOutputArgs = ov.ExtraOutputArgs
	}
	setDuration(&cfg.Capture.ConfirmTimeout, ov.ConfirmTimeout)
	setDuration(&cfg.Capture.ConfirmInterval, ov.ConfirmInterval)
	setString(&cfg.State.DataDir, ov.DataDir)
	if ov.ScheduleEnabled != nil {
		cfg.Schedule.Enabled = ov.ScheduleEnabled
	}
	setString(&cfg.Schedule.RulesFile, ov.RulesFile)
	setDuration(&cfg.Schedule.TickInterval, ov.TickInterval)
	setDuration(&cfg.Health.Interval, ov.HealthInterval)
	setDuration(&cfg.Health.SampleDelay, ov.SampleDelay)
	setString(&cfg.HTTP.Listen, ov.Listen)
	setString(&cfg.HTTP.APIKey, ov.APIKey)
	setString(&cfg.Activity.DBPath, ov.ActivityDB)
	setString(&cfg.Notify.NATSURL, ov.NATSURL)
	setBool(&cfg.Metrics.Enabled, ov.MetricsEnabled)
	setBool(&cfg.Thumbnail.Enabled, ov.ThumbnailEnabled)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *Duration, v *time.Duration) {
	if v != nil {
		*dst = Duration(*v)
	}
}
