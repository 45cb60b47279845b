package adapter

import (
	"context"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// TelemetryPort reads robot state.
type TelemetryPort interface {
	// ReadPose returns the latest planar pose (yaw in radians).
	ReadPose(ctx context.Context) (pdu.Pose, error)

	// ReadHeight returns the latest lift height in metres.
	ReadHeight(ctx context.Context) (float64, error)
}

// ActuatorPort reads and writes the actuator command word. Callers perform
// a read-modify-write so fields they do not own are preserved.
type ActuatorPort interface {
	ReadCommand(ctx context.Context) (pdu.ActuatorCommand, error)
	WriteCommand(ctx context.Context, cmd pdu.ActuatorCommand) error
}

// Robot is a controllable forklift.
type Robot interface {
	TelemetryPort
	ActuatorPort

	// ID identifies the robot on its bus.
	ID() string

	// GetModel names the robot model.
	GetModel() string
}

// CameraPort reaches the command and data channels of named cameras.
type CameraPort interface {
	// WriteRequest writes the camera command channel.
	WriteRequest(ctx context.Context, camera string, req pdu.CameraRequest) error

	// ReadResponse reads the camera data channel. A channel that has never
	// been written reads as the zero response.
	ReadResponse(ctx context.Context, camera string) (pdu.CameraResponse, error)
}

// RobotBase carries the identity shared by Robot implementations.
type RobotBase struct {
	RobotID string
	Model   string
}

// ID returns the robot identifier.
func (b *RobotBase) ID() string {
	return b.RobotID
}

// GetModel returns the robot model.
func (b *RobotBase) GetModel() string {
	return b.Model
}
