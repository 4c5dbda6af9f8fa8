package config

import (
	"net"
	"strings"

	"git.home.luguber.info/inful/streamrec/internal/foundation"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

var containers = []string{"mp4", "mkv", "mpegts", "flv", "mov"}

// Validate checks the whole configuration and reports every problem at once.
func Validate(cfg *Config) error {
	result := foundation.Valid().
		Combine(validateCapture(cfg.Capture)).
		Combine(validateDurations(cfg)).
		Combine(validateHTTP(cfg.HTTP))
	if result.Valid {
		return nil
	}
	verr := result.ToError()
	msg := "invalid configuration"
	if c, ok := errors.AsClassified(verr); ok {
		msg += ": " + c.Message()
	}
	return errors.WrapError(verr, errors.CategoryConfig, msg).
		WithContext("fields", len(result.Errors)).
		Build()
}

func validateCapture(c CaptureConfig) foundation.ValidationResult {
	return foundation.Valid().
		Combine(foundation.Required("capture.ffmpeg_path")(c.FFmpegPath)).
		Combine(foundation.Required("capture.ffprobe_path")(c.FFprobePath)).
		Combine(foundation.Required("capture.output_dir")(c.OutputDir)).
		Combine(foundation.OneOf("capture.container", containers)(c.Container)).
		Combine(stopScale(c.StopScale))
}

func stopScale(v float64) foundation.ValidationResult {
	if v <= 0 || v > 10 {
		return foundation.Invalid(foundation.NewValidationError("capture.stop_scale", "range", "must be in (0, 10]"))
	}
	return foundation.Valid()
}

func validateDurations(cfg *Config) foundation.ValidationResult {
	result := foundation.Valid().
		Combine(foundation.Positive[Duration]("capture.confirm_timeout")(cfg.Capture.ConfirmTimeout)).
		Combine(foundation.Positive[Duration]("capture.confirm_interval")(cfg.Capture.ConfirmInterval)).
		Combine(foundation.Positive[Duration]("schedule.tick_interval")(cfg.Schedule.TickInterval)).
		Combine(foundation.Positive[Duration]("health.interval")(cfg.Health.Interval)).
		Combine(foundation.Positive[Duration]("health.sample_delay")(cfg.Health.SampleDelay))
	if cfg.Capture.ConfirmInterval > cfg.Capture.ConfirmTimeout {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(
			"capture.confirm_interval", "range", "must not exceed capture.confirm_timeout")))
	}
	if cfg.Health.SampleDelay >= cfg.Health.Interval {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(
			"health.sample_delay", "range", "must be shorter than health.interval")))
	}
	return result
}

func validateHTTP(h HTTPConfig) foundation.ValidationResult {
	host, _, err := net.SplitHostPort(h.Listen)
	if err != nil {
		return foundation.Invalid(foundation.NewValidationError("http.listen", "format", "must be host:port"))
	}
	if h.APIKey == "" && !IsLoopback(host) {
		return foundation.Invalid(foundation.NewValidationError(
			"http.api_key", "required", "is required when listening on a non-loopback address"))
	}
	return foundation.Valid()
}

// IsLoopback reports whether host only accepts local connections.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
