// Package pdu defines the data units exchanged with the simulated forklift:
// the gamepad-style actuator command, the pose and height telemetry, and the
// monitor camera request/response pair.
package pdu

import (
	"math"

	"github.com/golang/geo/r3"
)

// Actuator array layout shared with the simulator's gamepad mapping.
const (
	AxisCount   = 6
	ButtonCount = 16

	AxisLift    = 1 // left stick up/down
	AxisYaw     = 2 // left stick left/right
	AxisForward = 3 // right stick up/down, negative drives forward

	ButtonEmergencyStop = 0
)

// ActuatorCommand is the gamepad-shaped command word read and written as a
// whole each control tick.
type ActuatorCommand struct {
	Axis   [AxisCount]float64 `json:"axis"`
	Button [ButtonCount]bool  `json:"button"`
}

// SetAxis stores v clamped into [-1, 1]. Out-of-range indexes are ignored
// and reported as false.
func (c *ActuatorCommand) SetAxis(index int, v float64) bool {
	if index < 0 || index >= AxisCount {
		return false
	}
	c.Axis[index] = Clamp(v, -1, 1)
	return true
}

// SetButton stores a button state. Out-of-range indexes are ignored and
// reported as false.
func (c *ActuatorCommand) SetButton(index int, pressed bool) bool {
	if index < 0 || index >= ButtonCount {
		return false
	}
	c.Button[index] = pressed
	return true
}

// Halt zeroes the motion axes and releases the emergency stop. Reserved
// axes and other buttons are preserved.
func (c *ActuatorCommand) Halt() {
	c.Axis[AxisYaw] = 0
	c.Axis[AxisLift] = 0
	c.Axis[AxisForward] = 0
	c.Button[ButtonEmergencyStop] = false
}

// Halted reports whether all motion axes are zero.
func (c ActuatorCommand) Halted() bool {
	return c.Axis[AxisYaw] == 0 && c.Axis[AxisLift] == 0 && c.Axis[AxisForward] == 0
}

// Vector3 is the wire shape of geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist is the wire shape of the pose channel: linear carries the position,
// angular.z carries the yaw in radians.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Pose is the planar pose of the robot.
type Pose struct {
	Position r3.Vector `json:"position"`
	Yaw      float64   `json:"yaw"` // radians
}

// YawDegrees returns the yaw in degrees.
func (p Pose) YawDegrees() float64 {
	return p.Yaw * 180.0 / math.Pi
}

// PlanarDistance is the x/y distance between two poses. Z is ignored.
func (p Pose) PlanarDistance(o Pose) float64 {
	a := r3.Vector{X: p.Position.X, Y: p.Position.Y}
	b := r3.Vector{X: o.Position.X, Y: o.Position.Y}
	return a.Distance(b)
}

// PoseFromTwist decodes the pose channel.
func PoseFromTwist(t Twist) Pose {
	return Pose{
		Position: r3.Vector{X: t.Linear.X, Y: t.Linear.Y, Z: t.Linear.Z},
		Yaw:      t.Angular.Z,
	}
}

// Twist encodes the pose in the pose channel shape.
func (p Pose) Twist() Twist {
	return Twist{
		Linear:  Vector3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Angular: Vector3{Z: p.Yaw},
	}
}

// Float64 is the wire shape of std_msgs/Float64, used by the height channel.
type Float64 struct {
	Data float64 `json:"data"`
}

// CameraHeader carries the request flag of a camera command.
type CameraHeader struct {
	Request    int32 `json:"request"`
	Result     int32 `json:"result"`
	ResultCode int32 `json:"result_code"`
}

// CameraRequest is written to a camera's command channel.
type CameraRequest struct {
	Header     CameraHeader `json:"header"`
	RequestID  int32        `json:"request_id"`
	EncodeType int32        `json:"encode_type"`
}

// CameraImage holds the encoded image payload. encoding/json carries Data
// as base64.
type CameraImage struct {
	Data []byte `json:"data"`
}

// CameraResponse is read from a camera's data channel. It answers the
// request whose id it carries.
type CameraResponse struct {
	RequestID int32       `json:"request_id"`
	Image     CameraImage `json:"image"`
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
