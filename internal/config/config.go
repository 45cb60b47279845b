package config

import (
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/control"
)

// Config is the full controller configuration.
type Config struct {
	Robot       RobotConfig               `yaml:"robot" toml:"robot"`
	Heading     control.HeadingConfig     `yaml:"heading" toml:"heading"`
	Translation control.TranslationConfig `yaml:"translation" toml:"translation"`
	Lift        control.LiftConfig        `yaml:"lift" toml:"lift"`
	Motion      MotionConfig              `yaml:"motion" toml:"motion"`
	Mission     MissionConfig             `yaml:"mission" toml:"mission"`
	Camera      CameraConfig              `yaml:"camera" toml:"camera"`
	Bus         BusConfig                 `yaml:"bus" toml:"bus"`
	Gamepad     GamepadConfig             `yaml:"gamepad" toml:"gamepad"`
	API         APIConfig                 `yaml:"api" toml:"api"`
	Auth        AuthConfig                `yaml:"auth" toml:"auth"`
	Audit       AuditConfig               `yaml:"audit" toml:"audit"`
	Telemetry   TelemetryConfig           `yaml:"telemetry" toml:"telemetry"`
	Log         LogConfig                 `yaml:"log" toml:"log"`
}

// RobotConfig names the robot entity and its channels on the PDU bus.
type RobotConfig struct {
	ID             string `yaml:"id" toml:"id"`
	CommandChannel string `yaml:"command_channel" toml:"command_channel"`
	PoseChannel    string `yaml:"pose_channel" toml:"pose_channel"`
	HeightChannel  string `yaml:"height_channel" toml:"height_channel"`
}

// MotionConfig shapes how the facade runs primitives.
type MotionConfig struct {
	// SettleDelay follows every stop.
	SettleDelay time.Duration `yaml:"settle_delay" toml:"settle_delay"`
	// PrimitiveTimeout bounds one primitive, 0 for none.
	PrimitiveTimeout time.Duration `yaml:"primitive_timeout" toml:"primitive_timeout"`
	// MaxTicks bounds one primitive in ticks, 0 for none.
	MaxTicks int `yaml:"max_ticks" toml:"max_ticks"`

	// An absolute heading is retried by relative turns until the error is
	// within HeadingTolerance degrees, waiting HeadingSettle between tries.
	HeadingTolerance float64       `yaml:"heading_tolerance_deg" toml:"heading_tolerance_deg"`
	HeadingSettle    time.Duration `yaml:"heading_settle" toml:"heading_settle"`
	HeadingAttempts  int           `yaml:"heading_attempts" toml:"heading_attempts"`
}

// MissionConfig is the pick-and-drop plan. Distances are metres, headings
// degrees, heights metres.
type MissionConfig struct {
	Count       int           `yaml:"count" toml:"count"`
	SettleDelay time.Duration `yaml:"settle_delay" toml:"settle_delay"`

	PickupHeading float64 `yaml:"pickup_heading" toml:"pickup_heading"`
	ShelfHeading  float64 `yaml:"shelf_heading" toml:"shelf_heading"`
	LowerHeight   float64 `yaml:"lower_height" toml:"lower_height"`
	GrabHeight    float64 `yaml:"grab_height" toml:"grab_height"`
	ReleaseHeight float64 `yaml:"release_height" toml:"release_height"`
	PickupX       float64 `yaml:"pickup_x" toml:"pickup_x"`
	DropoffX      float64 `yaml:"dropoff_x" toml:"dropoff_x"`
	DropoffY      float64 `yaml:"dropoff_y" toml:"dropoff_y"`
	NextPickupY   float64 `yaml:"next_pickup_y" toml:"next_pickup_y"`

	// CaptureAfter lists step names after which every camera is captured.
	CaptureAfter []string `yaml:"capture_after" toml:"capture_after"`
}

// CameraConfig describes the camera entities and their protocol timing.
type CameraConfig struct {
	// Names lists candidate camera entities; only those matching Pattern
	// are used.
	Names          []string      `yaml:"names" toml:"names"`
	Pattern        string        `yaml:"pattern" toml:"pattern"`
	CommandChannel string        `yaml:"command_channel" toml:"command_channel"`
	DataChannel    string        `yaml:"data_channel" toml:"data_channel"`
	Timeout        time.Duration `yaml:"timeout" toml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	ImageDir       string        `yaml:"image_dir" toml:"image_dir"`
}

// BusConfig locates the PDU bus.
type BusConfig struct {
	// URL is the websocket endpoint. Empty runs against an in-process bus.
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// Listen is the bridge listen address.
	Listen string `yaml:"listen" toml:"listen"`
}

// GamepadConfig filters manual input.
type GamepadConfig struct {
	Deadzone float64 `yaml:"deadzone" toml:"deadzone"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Listen          string        `yaml:"listen" toml:"listen"`
	CORSOrigins     []string      `yaml:"cors_origins" toml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// AuthConfig configures bearer token verification. With Secret set tokens
// are HS256; with PublicKeyFile they are RS256.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Secret        string `yaml:"secret" toml:"secret"`
	PublicKeyFile string `yaml:"public_key_file" toml:"public_key_file"`
}

// AuditConfig configures the rotated audit log.
type AuditConfig struct {
	Path       string `yaml:"path" toml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig sizes the event hub.
type TelemetryConfig struct {
	BufferSize        int           `yaml:"buffer_size" toml:"buffer_size"`
	ClientQueue       int           `yaml:"client_queue" toml:"client_queue"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// LogConfig selects the log level and formatter ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Baseline returns the defaults tuned for the simulated forklift.
func Baseline() *Config {
	return &Config{
		Robot: RobotConfig{
			ID:             "forklift",
			CommandChannel: "hako_cmd_game",
			PoseChannel:    "pos",
			HeightChannel:  "height",
		},
		Heading:     control.DefaultHeadingConfig(),
		Translation: control.DefaultTranslationConfig(),
		Lift:        control.DefaultLiftConfig(),
		Motion: MotionConfig{
			SettleDelay:      time.Millisecond,
			MaxTicks:         600000,
			HeadingTolerance: 0.5,
			HeadingSettle:    500 * time.Millisecond,
			HeadingAttempts:  10,
		},
		Mission: MissionConfig{
			Count:         1,
			SettleDelay:   time.Second,
			PickupHeading: -180,
			ShelfHeading:  -270,
			LowerHeight:   0.0,
			GrabHeight:    0.2,
			ReleaseHeight: 0.05,
			PickupX:       1.65,
			DropoffX:      1.0,
			DropoffY:      1.1,
			NextPickupY:   1.95,
		},
		Camera: CameraConfig{
			Pattern:        "Monitor_*",
			CommandChannel: "cmd",
			DataChannel:    "data",
			Timeout:        5 * time.Second,
			PollInterval:   10 * time.Millisecond,
			ImageDir:       "images",
		},
		Bus: BusConfig{
			Timeout: time.Second,
			Listen:  ":8765",
		},
		Gamepad: GamepadConfig{Deadzone: 0.05},
		API: APIConfig{
			Listen:          ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Path:       "audit.jsonl",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			BufferSize:        50,
			ClientQueue:       100,
			HeartbeatInterval: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}
