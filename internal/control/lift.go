package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// LiftConfig tunes the bang-bang lift loop.
type LiftConfig struct {
	Tolerance float64       `yaml:"tolerance" toml:"tolerance"`
	Period    time.Duration `yaml:"period" toml:"period"`
	Min       float64       `yaml:"min" toml:"min"`
	Max       float64       `yaml:"max" toml:"max"`
}

// DefaultLiftConfig matches the simulated fork travel.
func DefaultLiftConfig() LiftConfig {
	return LiftConfig{
		Tolerance: 0.01,
		Period:    time.Millisecond,
		Min:       -0.05,
		Max:       1.0,
	}
}

// LiftController drives the fork to an absolute height at full stick.
type LiftController struct {
	robot  adapter.Robot
	cfg    LiftConfig
	logger *logrus.Entry
}

// NewLiftController creates a lift controller for robot.
func NewLiftController(robot adapter.Robot, cfg LiftConfig, logger *logrus.Logger) *LiftController {
	return &LiftController{
		robot:  robot,
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "lift", "robot": robot.ID()}),
	}
}

// Config returns the controller configuration.
func (l *LiftController) Config() LiftConfig {
	return l.cfg
}

// LiftTo returns a primitive that moves the fork to h metres.
func (l *LiftController) LiftTo(h float64) *LiftPrimitive {
	l.logger.Debugf("Lift to %.3f m", h)
	return &LiftPrimitive{ctrl: l, target: h}
}

// LiftPrimitive is a lift goal in progress.
type LiftPrimitive struct {
	ctrl   *LiftController
	target float64
}

// Name identifies the primitive in logs and errors.
func (p *LiftPrimitive) Name() string {
	return fmt.Sprintf("lift_to(%.3f)", p.target)
}

// Tick writes +1 to raise and -1 to lower until inside the tolerance.
func (p *LiftPrimitive) Tick(ctx context.Context) (Status, error) {
	robot := p.ctrl.robot
	h, err := robot.ReadHeight(ctx)
	if err != nil {
		return Continue, telemetryError(err, "height")
	}

	e := p.target - h
	if math.Abs(e) < p.ctrl.cfg.Tolerance {
		if err := Halt(ctx, robot); err != nil {
			return Continue, err
		}
		p.ctrl.logger.Debugf("Reached %.3f m", h)
		return Converged, nil
	}

	value := -1.0
	if e > 0 {
		value = 1.0
	}
	return Continue, writeAxis(ctx, robot, pdu.AxisLift, value)
}
