package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Load merges Baseline() + optional file at path + env overrides (FCC_*)
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Baseline()

	if path != "" {
		if err := loadFromFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile decodes path over config. Keys absent from the file keep
// their current values.
func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		// JSON is a subset of YAML.
		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return fmt.Errorf("decode %s: %w", ext, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), config)
		if err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown toml keys: %v", undecoded)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// applyEnvOverrides applies FCC_* environment variables to the config.
func applyEnvOverrides(config *Config) error {
	strs := map[string]*string{
		"FCC_ROBOT_ID":      &config.Robot.ID,
		"FCC_BUS_URL":       &config.Bus.URL,
		"FCC_BUS_LISTEN":    &config.Bus.Listen,
		"FCC_API_LISTEN":    &config.API.Listen,
		"FCC_AUTH_SECRET":   &config.Auth.Secret,
		"FCC_AUTH_KEY_FILE": &config.Auth.PublicKeyFile,
		"FCC_AUDIT_PATH":    &config.Audit.Path,
		"FCC_CAMERA_DIR":    &config.Camera.ImageDir,
		"FCC_LOG_LEVEL":     &config.Log.Level,
		"FCC_LOG_FORMAT":    &config.Log.Format,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"FCC_BUS_TIMEOUT":              &config.Bus.Timeout,
		"FCC_MOTION_SETTLE_DELAY":      &config.Motion.SettleDelay,
		"FCC_MOTION_PRIMITIVE_TIMEOUT": &config.Motion.PrimitiveTimeout,
		"FCC_MISSION_SETTLE_DELAY":     &config.Mission.SettleDelay,
		"FCC_CAMERA_TIMEOUT":           &config.Camera.Timeout,
		"FCC_CAMERA_POLL_INTERVAL":     &config.Camera.PollInterval,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	floats := map[string]*float64{
		"FCC_HEADING_KP":        &config.Heading.Kp,
		"FCC_HEADING_KI":        &config.Heading.Ki,
		"FCC_HEADING_KD":        &config.Heading.Kd,
		"FCC_HEADING_TOLERANCE": &config.Heading.Tolerance,
		"FCC_TRANSLATION_SPEED": &config.Translation.Speed,
		"FCC_GAMEPAD_DEADZONE":  &config.Gamepad.Deadzone,
	}
	for key, dst := range floats {
		if val := os.Getenv(key); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"FCC_MISSION_COUNT":         &config.Mission.Count,
		"FCC_MOTION_MAX_TICKS":      &config.Motion.MaxTicks,
		"FCC_TELEMETRY_BUFFER_SIZE": &config.Telemetry.BufferSize,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if val := os.Getenv("FCC_AUTH_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("FCC_AUTH_ENABLED: %w", err)
		}
		config.Auth.Enabled = enabled
	}

	if val := os.Getenv("FCC_CAMERA_NAMES"); val != "" {
		config.Camera.Names = splitList(val)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
