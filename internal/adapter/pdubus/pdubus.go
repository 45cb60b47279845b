// Package pdubus implements the robot and camera ports on a PDU bus.
package pdubus

import (
	"context"
	"errors"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/bus"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// Channels names the logical channels of one robot.
type Channels struct {
	Command string
	Pose    string
	Height  string
}

// DefaultChannels matches the simulator's forklift PDU definition.
func DefaultChannels() Channels {
	return Channels{
		Command: "hako_cmd_game",
		Pose:    "pos",
		Height:  "height",
	}
}

// Robot implements adapter.Robot on a bus.
type Robot struct {
	adapter.RobotBase

	bus      bus.Bus
	channels Channels
}

var _ adapter.Robot = (*Robot)(nil)

// NewRobot creates a bus-backed robot for entity robotID.
func NewRobot(b bus.Bus, robotID string, channels Channels) *Robot {
	return &Robot{
		RobotBase: adapter.RobotBase{
			RobotID: robotID,
			Model:   "hakoniwa-forklift",
		},
		bus:      b,
		channels: channels,
	}
}

func (r *Robot) key(channel string) bus.Key {
	return bus.Key{Entity: r.RobotID, Channel: channel}
}

// ReadPose decodes the Twist on the pose channel.
func (r *Robot) ReadPose(ctx context.Context) (pdu.Pose, error) {
	var twist pdu.Twist
	if err := bus.ReadJSON(ctx, r.bus, r.key(r.channels.Pose), &twist); err != nil {
		return pdu.Pose{}, adapter.NormalizePortError(err, r.channels.Pose, adapter.ErrTelemetryUnavailable)
	}
	return pdu.PoseFromTwist(twist), nil
}

// ReadHeight decodes the Float64 on the height channel.
func (r *Robot) ReadHeight(ctx context.Context) (float64, error) {
	var height pdu.Float64
	if err := bus.ReadJSON(ctx, r.bus, r.key(r.channels.Height), &height); err != nil {
		return 0, adapter.NormalizePortError(err, r.channels.Height, adapter.ErrTelemetryUnavailable)
	}
	return height.Data, nil
}

// ReadCommand decodes the command channel. A channel nobody has written
// reads as the zero command.
func (r *Robot) ReadCommand(ctx context.Context) (pdu.ActuatorCommand, error) {
	var cmd pdu.ActuatorCommand
	err := bus.ReadJSON(ctx, r.bus, r.key(r.channels.Command), &cmd)
	if errors.Is(err, bus.ErrNoData) {
		return pdu.ActuatorCommand{}, nil
	}
	if err != nil {
		return pdu.ActuatorCommand{}, adapter.NormalizePortError(err, r.channels.Command, adapter.ErrActuatorWrite)
	}
	return cmd, nil
}

// WriteCommand encodes cmd onto the command channel.
func (r *Robot) WriteCommand(ctx context.Context, cmd pdu.ActuatorCommand) error {
	if err := bus.WriteJSON(ctx, r.bus, r.key(r.channels.Command), cmd); err != nil {
		return adapter.NormalizePortError(err, r.channels.Command, adapter.ErrActuatorWrite)
	}
	return nil
}

// CameraChannels names the logical channels of every monitor camera. Each
// camera is its own bus entity.
type CameraChannels struct {
	Command string
	Data    string
}

// DefaultCameraChannels matches the monitor camera PDU definition.
func DefaultCameraChannels() CameraChannels {
	return CameraChannels{Command: "cmd", Data: "data"}
}

// Camera implements adapter.CameraPort on a bus.
type Camera struct {
	bus      bus.Bus
	channels CameraChannels
}

var _ adapter.CameraPort = (*Camera)(nil)

// NewCamera creates a bus-backed camera port.
func NewCamera(b bus.Bus, channels CameraChannels) *Camera {
	return &Camera{bus: b, channels: channels}
}

// WriteRequest encodes req onto the camera's command channel.
func (c *Camera) WriteRequest(ctx context.Context, camera string, req pdu.CameraRequest) error {
	key := bus.Key{Entity: camera, Channel: c.channels.Command}
	if err := bus.WriteJSON(ctx, c.bus, key, req); err != nil {
		return adapter.NormalizePortError(err, key.String(), adapter.ErrActuatorWrite)
	}
	return nil
}

// ReadResponse decodes the camera's data channel.
func (c *Camera) ReadResponse(ctx context.Context, camera string) (pdu.CameraResponse, error) {
	key := bus.Key{Entity: camera, Channel: c.channels.Data}
	var resp pdu.CameraResponse
	err := bus.ReadJSON(ctx, c.bus, key, &resp)
	if errors.Is(err, bus.ErrNoData) {
		return pdu.CameraResponse{}, nil
	}
	if err != nil {
		return pdu.CameraResponse{}, adapter.NormalizePortError(err, key.String(), adapter.ErrTelemetryUnavailable)
	}
	return resp, nil
}
