package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/control"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/telemetry"
)

var (
	// ErrPrimitiveTimeout means a primitive ran past motion.primitive_timeout.
	ErrPrimitiveTimeout = errors.New("PRIMITIVE_TIMEOUT")
	// ErrHeadingNotReached means SetHeading ran out of attempts.
	ErrHeadingNotReached = errors.New("HEADING_NOT_REACHED")
)

// AuditLogger records motion actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action, robotID string, params map[string]interface{}, err error, latency time.Duration)
}

// Facade runs motion primitives on one robot, one at a time.
type Facade struct {
	mu sync.Mutex

	robot adapter.Robot
	clock clock.Clock
	cfg   config.MotionConfig

	heading     *control.HeadingController
	translation *control.TranslationController
	lift        *control.LiftController

	telemetryHub *telemetry.Hub
	auditLogger  AuditLogger
	logger       *logrus.Entry
}

// NewFacade creates a facade for robot. hub may be nil.
func NewFacade(robot adapter.Robot, clk clock.Clock, cfg *config.Config, hub *telemetry.Hub, logger *logrus.Logger) *Facade {
	return &Facade{
		robot:        robot,
		clock:        clk,
		cfg:          cfg.Motion,
		heading:      control.NewHeadingController(robot, cfg.Heading, logger),
		translation:  control.NewTranslationController(robot, cfg.Translation, logger),
		lift:         control.NewLiftController(robot, cfg.Lift, logger),
		telemetryHub: hub,
		logger:       logger.WithFields(logrus.Fields{"component": "motion", "robot": robot.ID()}),
	}
}

// SetAuditLogger sets the audit logger.
func (f *Facade) SetAuditLogger(logger AuditLogger) {
	f.auditLogger = logger
}

// RobotID returns the controlled robot's id.
func (f *Facade) RobotID() string {
	return f.robot.ID()
}

// RobotModel returns the controlled robot's model.
func (f *Facade) RobotModel() string {
	return f.robot.GetModel()
}

// Stop zeroes yaw, lift and forward, releases the emergency stop and
// waits the settle delay.
func (f *Facade) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.clock.Now()
	err := f.stopLocked(ctx)
	f.logAudit(ctx, "stop", nil, err, f.clock.Now().Sub(start))
	if err != nil {
		f.logger.WithError(err).Error("Stop failed")
		f.publishFaultEvent(err, "Failed to stop")
	}
	return err
}

func (f *Facade) stopLocked(ctx context.Context) error {
	if err := control.Halt(ctx, f.robot); err != nil {
		return err
	}
	return f.clock.Sleep(ctx, f.cfg.SettleDelay)
}

// haltLocked stops the robot for a primitive that ended before driving.
// err is returned unless it is nil and the stop failed.
func (f *Facade) haltLocked(ctx context.Context, err error) error {
	if stopErr := f.stopLocked(context.WithoutCancel(ctx)); err == nil {
		err = stopErr
	}
	return err
}

// Turn turns by relDeg from the current heading.
func (f *Facade) Turn(ctx context.Context, relDeg float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.yawLocked(ctx)
	if err != nil {
		f.logAudit(ctx, "turn", map[string]interface{}{"relDeg": relDeg}, err, 0)
		return f.haltLocked(ctx, err)
	}
	return f.runLocked(ctx, "turn", map[string]interface{}{"relDeg": relDeg, "fromDeg": current},
		f.heading.TurnTo(current+relDeg), f.heading.Config().Period)
}

// SetHeading turns to the absolute heading targetDeg. Relative turns are
// repeated, with a settle wait between them, until the heading error is
// within the retry tolerance.
func (f *Facade) SetHeading(ctx context.Context, targetDeg float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	params := map[string]interface{}{"targetDeg": targetDeg}
	// runLocked stops after every turn; exits before the first turn still
	// need their own stop.
	turned := false
	finish := func(err error) error {
		if turned {
			return err
		}
		return f.haltLocked(ctx, err)
	}

	for attempt := 1; attempt <= f.cfg.HeadingAttempts; attempt++ {
		current, err := f.yawLocked(ctx)
		if err != nil {
			f.logAudit(ctx, "heading", params, err, 0)
			return finish(err)
		}
		e := control.HeadingError(control.NormalizeDegrees(targetDeg), current)
		f.logger.Debugf("Heading attempt %d: current %.2f target %.2f error %.3f", attempt, current, targetDeg, e)
		if math.Abs(e) <= f.cfg.HeadingTolerance {
			return finish(nil)
		}

		turned = true
		if err := f.runLocked(ctx, "heading", params, f.heading.TurnTo(current+e), f.heading.Config().Period); err != nil {
			return err
		}
		if err := f.clock.Sleep(ctx, f.cfg.HeadingSettle); err != nil {
			return err
		}
	}

	current, err := f.yawLocked(ctx)
	if err != nil {
		return finish(err)
	}
	if e := control.HeadingError(control.NormalizeDegrees(targetDeg), current); math.Abs(e) > f.cfg.HeadingTolerance {
		err := fmt.Errorf("%w: %.2f deg off %.2f after %d attempts", ErrHeadingNotReached, e, targetDeg, f.cfg.HeadingAttempts)
		f.publishFaultEvent(err, "Heading not reached")
		return finish(err)
	}
	return finish(nil)
}

// Move drives d metres along the current heading; negative d backs up.
func (f *Facade) Move(ctx context.Context, d float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.runLocked(ctx, "move", map[string]interface{}{"distance": d},
		f.translation.MoveBy(d), f.translation.Config().Period)
}

// LiftTo moves the fork to the absolute height h.
func (f *Facade) LiftTo(ctx context.Context, h float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	params := map[string]interface{}{"height": h}
	cfg := f.lift.Config()
	if h < cfg.Min || h > cfg.Max {
		err := &adapter.PortError{
			Code:     adapter.ErrInvalidRange,
			Channel:  "lift",
			Original: fmt.Errorf("height %.3f outside [%.3f, %.3f]", h, cfg.Min, cfg.Max),
		}
		f.logAudit(ctx, "lift", params, err, 0)
		return err
	}
	return f.runLocked(ctx, "lift", params, f.lift.LiftTo(h), cfg.Period)
}

// Pose returns the current pose.
func (f *Facade) Pose(ctx context.Context) (pdu.Pose, error) {
	pose, err := f.robot.ReadPose(ctx)
	if err != nil {
		return pdu.Pose{}, adapter.NormalizePortError(err, "pose", adapter.ErrTelemetryUnavailable)
	}
	return pose, nil
}

// Height returns the current lift height.
func (f *Facade) Height(ctx context.Context) (float64, error) {
	h, err := f.robot.ReadHeight(ctx)
	if err != nil {
		return 0, adapter.NormalizePortError(err, "height", adapter.ErrTelemetryUnavailable)
	}
	return h, nil
}

// Command returns the current actuator command.
func (f *Facade) Command(ctx context.Context) (pdu.ActuatorCommand, error) {
	cmd, err := f.robot.ReadCommand(ctx)
	if err != nil {
		return pdu.ActuatorCommand{}, adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	return cmd, nil
}

// WithCommand runs fn on the command word under the facade lock and writes
// the result back.
func (f *Facade) WithCommand(ctx context.Context, fn func(*pdu.ActuatorCommand)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd, err := f.robot.ReadCommand(ctx)
	if err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	fn(&cmd)
	if err := f.robot.WriteCommand(ctx, cmd); err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	return nil
}

func (f *Facade) yawLocked(ctx context.Context) (float64, error) {
	pose, err := f.Pose(ctx)
	if err != nil {
		f.logger.WithError(err).Error("Pose read failed")
		f.publishFaultEvent(err, "Failed to read pose")
		return 0, err
	}
	return control.NormalizeDegrees(pose.YawDegrees()), nil
}

// runLocked drives p to completion and always stops the robot afterwards.
func (f *Facade) runLocked(ctx context.Context, action string, params map[string]interface{}, p control.Primitive, period time.Duration) error {
	start := f.clock.Now()
	inner := p
	if f.cfg.PrimitiveTimeout > 0 {
		p = &deadlinePrimitive{Primitive: p, clock: f.clock, deadline: start.Add(f.cfg.PrimitiveTimeout), timeout: f.cfg.PrimitiveTimeout}
	}

	driver := control.Driver{Clock: f.clock, Period: period, MaxTicks: f.cfg.MaxTicks}
	f.logger.Infof("Running %s", p.Name())
	res, err := driver.Run(ctx, p)

	// The stop goes out even when ctx is done.
	if stopErr := f.stopLocked(context.WithoutCancel(ctx)); err == nil {
		err = stopErr
	}
	latency := f.clock.Now().Sub(start)

	f.logAudit(ctx, action, params, err, latency)
	f.publishPrimitiveEvent(inner, res, err)
	if err != nil {
		f.logger.WithError(err).WithField("ticks", res.Ticks).Errorf("%s aborted", p.Name())
		f.publishFaultEvent(err, fmt.Sprintf("%s aborted", p.Name()))
		return err
	}
	f.logger.WithFields(logrus.Fields{"ticks": res.Ticks, "elapsed": res.Elapsed}).Infof("%s converged", p.Name())
	return nil
}

// deadlinePrimitive fails its primitive once the clock passes deadline.
type deadlinePrimitive struct {
	control.Primitive
	clock    clock.Clock
	deadline time.Time
	timeout  time.Duration
}

func (d *deadlinePrimitive) Tick(ctx context.Context) (control.Status, error) {
	if !d.clock.Now().Before(d.deadline) {
		return control.Continue, fmt.Errorf("%s: %w after %v", d.Name(), ErrPrimitiveTimeout, d.timeout)
	}
	return d.Primitive.Tick(ctx)
}

func (f *Facade) publishPrimitiveEvent(p control.Primitive, res control.Result, err error) {
	if f.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"robotId":   f.robot.ID(),
		"primitive": p.Name(),
		"ticks":     res.Ticks,
		"elapsedMs": res.Elapsed.Milliseconds(),
		"status":    "converged",
		"ts":        f.clock.Now().UTC().Format(time.RFC3339),
	}
	if hp, ok := p.(*control.HeadingPrimitive); ok {
		data["headingErrorDeg"] = hp.LastError()
	}
	if err != nil {
		data["status"] = "failed"
		data["error"] = err.Error()
	}
	if err := f.telemetryHub.PublishRobot(f.robot.ID(), telemetry.Event{Type: telemetry.EventPrimitive, Data: data}); err != nil {
		f.logger.WithError(err).Debug("Failed to publish primitive event")
	}
}

func (f *Facade) publishFaultEvent(err error, message string) {
	if f.telemetryHub == nil {
		return
	}

	code := "ERROR"
	if c := adapter.CodeOf(err); c != nil {
		code = c.Error()
	}
	event := telemetry.Event{
		Type: telemetry.EventFault,
		Data: map[string]interface{}{
			"robotId": f.robot.ID(),
			"code":    code,
			"message": message,
			"error":   err.Error(),
			"ts":      f.clock.Now().UTC().Format(time.RFC3339),
		},
	}
	// A failed fault publish is not reported again.
	_ = f.telemetryHub.PublishRobot(f.robot.ID(), event)
}

func (f *Facade) logAudit(ctx context.Context, action string, params map[string]interface{}, err error, latency time.Duration) {
	if f.auditLogger != nil {
		f.auditLogger.LogAction(ctx, action, f.robot.ID(), params, err, latency)
	}
}
