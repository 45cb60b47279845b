package api

import (
	"context"
	"net/http"
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/camera"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/gamepad"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/mission"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/motion"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/telemetry"
)

// MotionPort is what the API needs from the motion facade.
type MotionPort interface {
	RobotID() string
	RobotModel() string
	Stop(ctx context.Context) error
	Turn(ctx context.Context, relDeg float64) error
	SetHeading(ctx context.Context, deg float64) error
	Move(ctx context.Context, d float64) error
	LiftTo(ctx context.Context, h float64) error
	Pose(ctx context.Context) (pdu.Pose, error)
	Height(ctx context.Context) (float64, error)
	Command(ctx context.Context) (pdu.ActuatorCommand, error)
}

// MissionPort runs missions in the background.
type MissionPort interface {
	Start(ctx context.Context, count int) (mission.Run, error)
	Get(id string) (mission.Run, error)
	Cancel(id string) error
	Busy() bool
	AcquireManual() (func(), error)
}

// GamepadPort applies manual joystick input.
type GamepadPort interface {
	Apply(ctx context.Context, events []gamepad.Event) (pdu.ActuatorCommand, error)
}

// CameraPort captures images on demand.
type CameraPort interface {
	Names() []string
	Capture(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}

// TelemetryPort streams events.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Compile-time assertions for port conformance
var (
	_ MotionPort    = (*motion.Facade)(nil)
	_ MissionPort   = (*mission.Runner)(nil)
	_ GamepadPort   = (*gamepad.Bridge)(nil)
	_ CameraPort    = (*camera.Manager)(nil)
	_ TelemetryPort = (*telemetry.Hub)(nil)
)
