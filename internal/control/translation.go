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

// TranslationConfig tunes the fixed-speed drive loop.
type TranslationConfig struct {
	Speed     float64       `yaml:"speed" toml:"speed"`
	Tolerance float64       `yaml:"tolerance" toml:"tolerance"`
	Period    time.Duration `yaml:"period" toml:"period"`
}

// DefaultTranslationConfig returns half stick with a 1 cm band.
func DefaultTranslationConfig() TranslationConfig {
	return TranslationConfig{
		Speed:     0.5,
		Tolerance: 0.01,
		Period:    time.Millisecond,
	}
}

// TranslationController drives the robot a signed distance along its
// current heading.
type TranslationController struct {
	robot  adapter.Robot
	cfg    TranslationConfig
	logger *logrus.Entry
}

// NewTranslationController creates a translation controller for robot.
func NewTranslationController(robot adapter.Robot, cfg TranslationConfig, logger *logrus.Logger) *TranslationController {
	return &TranslationController{
		robot:  robot,
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "translation", "robot": robot.ID()}),
	}
}

// Config returns the controller configuration.
func (t *TranslationController) Config() TranslationConfig {
	return t.cfg
}

// MoveBy returns a primitive that travels d metres (negative backs up). The
// start position is taken on the first tick.
func (t *TranslationController) MoveBy(d float64) *TranslationPrimitive {
	t.logger.Debugf("Move by %.3f m", d)
	return &TranslationPrimitive{ctrl: t, distance: d}
}

// TranslationPrimitive is a translation goal in progress.
type TranslationPrimitive struct {
	ctrl     *TranslationController
	distance float64

	started  bool
	start    pdu.Pose
	traveled float64
}

// Name identifies the primitive in logs and errors.
func (p *TranslationPrimitive) Name() string {
	return fmt.Sprintf("move(%.3f)", p.distance)
}

// Traveled is the planar distance from the start seen by the latest tick.
func (p *TranslationPrimitive) Traveled() float64 {
	return p.traveled
}

// Tick compares the scalar displacement with the goal. Direction comes
// from the sign of the goal; the drive reverses when the robot overshoots.
func (p *TranslationPrimitive) Tick(ctx context.Context) (Status, error) {
	robot := p.ctrl.robot
	pose, err := robot.ReadPose(ctx)
	if err != nil {
		return Continue, telemetryError(err, "pose")
	}
	if !p.started {
		p.start = pose
		p.started = true
	}

	p.traveled = p.start.PlanarDistance(pose)
	e := math.Abs(p.distance) - p.traveled
	if math.Abs(e) < p.ctrl.cfg.Tolerance {
		if err := Halt(ctx, robot); err != nil {
			return Continue, err
		}
		p.ctrl.logger.Debugf("Traveled %.3f of %.3f m", p.traveled, p.distance)
		return Converged, nil
	}

	// Negative stick drives forward.
	value := -sign(p.distance) * p.ctrl.cfg.Speed * sign(e)
	return Continue, writeAxis(ctx, robot, pdu.AxisForward, value)
}
