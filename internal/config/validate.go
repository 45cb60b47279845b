package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate rejects configurations the controller cannot run with.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateRobot(config); err != nil {
		return fmt.Errorf("robot validation failed: %w", err)
	}
	if err := validateControl(config); err != nil {
		return fmt.Errorf("control validation failed: %w", err)
	}
	if err := validateMotion(config); err != nil {
		return fmt.Errorf("motion validation failed: %w", err)
	}
	if err := validateMission(config); err != nil {
		return fmt.Errorf("mission validation failed: %w", err)
	}
	if err := validateCamera(config); err != nil {
		return fmt.Errorf("camera validation failed: %w", err)
	}
	if err := validateServices(config); err != nil {
		return fmt.Errorf("service validation failed: %w", err)
	}

	return nil
}

func validateRobot(config *Config) error {
	r := config.Robot
	if r.ID == "" {
		return fmt.Errorf("robot id must be set")
	}
	if r.CommandChannel == "" || r.PoseChannel == "" || r.HeightChannel == "" {
		return fmt.Errorf("robot channels must be set, got command=%q pose=%q height=%q",
			r.CommandChannel, r.PoseChannel, r.HeightChannel)
	}
	return nil
}

func validateControl(config *Config) error {
	h := config.Heading
	if h.Kp < 0 || h.Ki < 0 || h.Kd < 0 {
		return fmt.Errorf("heading gains must be non-negative, got kp=%v ki=%v kd=%v", h.Kp, h.Ki, h.Kd)
	}
	if h.Kp == 0 && h.Ki == 0 && h.Kd == 0 {
		return fmt.Errorf("heading gains cannot all be zero")
	}
	if h.Tolerance <= 0 || h.Tolerance >= 180 {
		return fmt.Errorf("heading tolerance must be in (0, 180), got %v", h.Tolerance)
	}
	if h.Period <= 0 {
		return fmt.Errorf("heading period must be positive, got %v", h.Period)
	}

	t := config.Translation
	if t.Speed <= 0 || t.Speed > 1 {
		return fmt.Errorf("translation speed must be in (0, 1], got %v", t.Speed)
	}
	if t.Tolerance <= 0 {
		return fmt.Errorf("translation tolerance must be positive, got %v", t.Tolerance)
	}
	if t.Period <= 0 {
		return fmt.Errorf("translation period must be positive, got %v", t.Period)
	}

	l := config.Lift
	if l.Tolerance <= 0 {
		return fmt.Errorf("lift tolerance must be positive, got %v", l.Tolerance)
	}
	if l.Period <= 0 {
		return fmt.Errorf("lift period must be positive, got %v", l.Period)
	}
	if l.Min >= l.Max {
		return fmt.Errorf("lift range min %v must be below max %v", l.Min, l.Max)
	}
	return nil
}

func validateMotion(config *Config) error {
	m := config.Motion
	if m.SettleDelay < 0 {
		return fmt.Errorf("settle delay must be non-negative, got %v", m.SettleDelay)
	}
	if m.PrimitiveTimeout < 0 {
		return fmt.Errorf("primitive timeout must be non-negative, got %v", m.PrimitiveTimeout)
	}
	if m.MaxTicks < 0 {
		return fmt.Errorf("max ticks must be non-negative, got %d", m.MaxTicks)
	}
	if m.HeadingTolerance < config.Heading.Tolerance {
		return fmt.Errorf("heading retry tolerance %v must be >= controller tolerance %v",
			m.HeadingTolerance, config.Heading.Tolerance)
	}
	if m.HeadingAttempts < 1 {
		return fmt.Errorf("heading attempts must be at least 1, got %d", m.HeadingAttempts)
	}
	return nil
}

func validateMission(config *Config) error {
	m := config.Mission
	if m.Count < 0 {
		return fmt.Errorf("mission count must be non-negative, got %d", m.Count)
	}
	if m.SettleDelay < 0 {
		return fmt.Errorf("mission settle delay must be non-negative, got %v", m.SettleDelay)
	}
	for name, h := range map[string]float64{
		"lower":   m.LowerHeight,
		"grab":    m.GrabHeight,
		"release": m.ReleaseHeight,
	} {
		if h < config.Lift.Min || h > config.Lift.Max {
			return fmt.Errorf("%s height %v outside lift range [%v, %v]", name, h, config.Lift.Min, config.Lift.Max)
		}
	}
	return nil
}

func validateCamera(config *Config) error {
	c := config.Camera
	if _, err := path.Match(c.Pattern, ""); err != nil {
		return fmt.Errorf("camera pattern %q: %w", c.Pattern, err)
	}
	if c.CommandChannel == "" || c.DataChannel == "" {
		return fmt.Errorf("camera channels must be set")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("camera timeout must be positive, got %v", c.Timeout)
	}
	if c.PollInterval <= 0 || c.PollInterval > c.Timeout {
		return fmt.Errorf("camera poll interval must be in (0, %v], got %v", c.Timeout, c.PollInterval)
	}
	return nil
}

func validateServices(config *Config) error {
	if config.Bus.Timeout <= 0 {
		return fmt.Errorf("bus timeout must be positive, got %v", config.Bus.Timeout)
	}
	if config.Bus.URL != "" && !strings.HasPrefix(config.Bus.URL, "ws://") && !strings.HasPrefix(config.Bus.URL, "wss://") {
		return fmt.Errorf("bus url must be ws:// or wss://, got %q", config.Bus.URL)
	}
	if d := config.Gamepad.Deadzone; d < 0 || d >= 1 {
		return fmt.Errorf("gamepad deadzone must be in [0, 1), got %v", d)
	}
	if config.Auth.Enabled && config.Auth.Secret == "" && config.Auth.PublicKeyFile == "" {
		return fmt.Errorf("auth enabled without secret or public key file")
	}
	if config.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry buffer size must be positive, got %d", config.Telemetry.BufferSize)
	}
	if config.Telemetry.ClientQueue <= 0 {
		return fmt.Errorf("telemetry client queue must be positive, got %d", config.Telemetry.ClientQueue)
	}
	if config.Telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("telemetry heartbeat interval must be positive, got %v", config.Telemetry.HeartbeatInterval)
	}
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", config.Log.Format)
	}
	return nil
}
