package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/felixge/pidctrl"
	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// HeadingConfig tunes the yaw loop. Bang-bang control is Ki = Kd = 0 with a
// large Kp.
type HeadingConfig struct {
	Kp        float64       `yaml:"kp" toml:"kp"`
	Ki        float64       `yaml:"ki" toml:"ki"`
	Kd        float64       `yaml:"kd" toml:"kd"`
	Tolerance float64       `yaml:"tolerance_deg" toml:"tolerance_deg"`
	Period    time.Duration `yaml:"period" toml:"period"`
}

// DefaultHeadingConfig returns the gains tuned for the simulated forklift.
func DefaultHeadingConfig() HeadingConfig {
	return HeadingConfig{
		Kp:        0.5,
		Ki:        0.2,
		Kd:        1.0,
		Tolerance: 0.25,
		Period:    time.Millisecond,
	}
}

// HeadingController turns the robot to an absolute yaw.
type HeadingController struct {
	robot  adapter.Robot
	cfg    HeadingConfig
	logger *logrus.Entry
}

// NewHeadingController creates a heading controller for robot.
func NewHeadingController(robot adapter.Robot, cfg HeadingConfig, logger *logrus.Logger) *HeadingController {
	return &HeadingController{
		robot:  robot,
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "heading", "robot": robot.ID()}),
	}
}

// Config returns the controller configuration.
func (h *HeadingController) Config() HeadingConfig {
	return h.cfg
}

// TurnTo returns a primitive that turns to targetDeg. Integral and
// derivative state start fresh for every call.
func (h *HeadingController) TurnTo(targetDeg float64) *HeadingPrimitive {
	target := NormalizeDegrees(targetDeg)
	// The PID runs on the measurement -e against setpoint 0 so that its
	// derivative on measurement equals (e - prevE)/dt.
	pid := pidctrl.NewPIDController(h.cfg.Kp, h.cfg.Ki, h.cfg.Kd).SetOutputLimits(-1, 1).Set(0)
	h.logger.Debugf("Turn to %.2f deg", target)
	return &HeadingPrimitive{ctrl: h, target: target, pid: pid}
}

// HeadingPrimitive is a heading goal in progress.
type HeadingPrimitive struct {
	ctrl   *HeadingController
	target float64
	pid    *pidctrl.PIDController

	lastError float64
}

// Name identifies the primitive in logs and errors.
func (p *HeadingPrimitive) Name() string {
	return fmt.Sprintf("turn_to(%.2f)", p.target)
}

// Target is the normalized goal in degrees.
func (p *HeadingPrimitive) Target() float64 {
	return p.target
}

// LastError is the heading error seen by the latest tick.
func (p *HeadingPrimitive) LastError() float64 {
	return p.lastError
}

// Tick reads the yaw and writes the yaw axis, or halts once inside the
// tolerance.
func (p *HeadingPrimitive) Tick(ctx context.Context) (Status, error) {
	robot := p.ctrl.robot
	pose, err := robot.ReadPose(ctx)
	if err != nil {
		return Continue, telemetryError(err, "pose")
	}

	e := HeadingError(p.target, NormalizeDegrees(pose.YawDegrees()))
	p.lastError = e
	if math.Abs(e) < p.ctrl.cfg.Tolerance {
		if err := Halt(ctx, robot); err != nil {
			return Continue, err
		}
		p.ctrl.logger.Debugf("Reached %.2f deg (error %.3f)", p.target, e)
		return Converged, nil
	}

	u := p.pid.UpdateDuration(-e, p.ctrl.cfg.Period)
	return Continue, writeAxis(ctx, robot, pdu.AxisYaw, -u)
}
