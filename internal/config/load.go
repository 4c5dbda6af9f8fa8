package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// Load reads configPath, applies environment overrides and defaults, and
// validates the result. An empty configPath loads defaults plus environment.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).Build()
			}
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
				WithContext("path", configPath).
				Build()
		}

		// Expand environment variables in the YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to parse config file").
				WithContext("path", configPath).
				Build()
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid environment override").Build()
	}

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads .env then .env.local when present. Variables already set in
// the process environment win.
func loadEnvFiles() {
	for _, path := range []string{".env", ".env.local"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("Loaded environment variables", slog.String("path", path))
	}
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Config{
		Stream: StreamConfig{URL: "rtmp://camera.local/live/stream", ValidateBeforeStart: true},
		Capture: CaptureConfig{
			OutputDir:  "/var/lib/streamrec/recordings",
			VideoCodec: "copy",
			AudioCodec: "aac",
		},
		State:    StateConfig{DataDir: "/var/lib/streamrec"},
		Schedule: ScheduleConfig{RulesFile: "/etc/streamrec/schedules.json"},
		HTTP:     HTTPConfig{Listen: DefaultListen, APIKey: "${STREAMREC_API_KEY}"},
		Metrics:  MetricsConfig{Enabled: true},
	}
	if err := ApplyDefaults(&example); err != nil {
		return err
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
