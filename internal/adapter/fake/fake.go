// Package fake provides a kinematic forklift and camera for tests.
//
// The forklift integrates its pose and lift height from the last written
// command over the time reported by its clock, so a control loop driven by
// a manual clock sees the robot move exactly as far as the ticks it slept.
package fake

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// Channels that accept simulated errors.
const (
	ChannelPose    = "pos"
	ChannelHeight  = "height"
	ChannelCommand = "hako_cmd_game"
)

// Options shapes the simulated dynamics.
type Options struct {
	YawRate  float64       // deg/s at full stick
	YawLag   time.Duration // first-order lag of the yaw rate, 0 for none
	Speed    float64       // m/s at full stick
	LiftRate float64       // m/s at full stick
	LiftMin  float64
	LiftMax  float64
	Step     time.Duration // integration step

	// RecordHistory keeps every written command for History.
	RecordHistory bool
}

// DefaultOptions approximates the simulated forklift.
func DefaultOptions() Options {
	return Options{
		YawRate:  90,
		YawLag:   100 * time.Millisecond,
		Speed:    1.0,
		LiftRate: 0.5,
		LiftMin:  -0.05,
		LiftMax:  1.0,
		Step:     time.Millisecond,

		RecordHistory: true,
	}
}

// Forklift implements adapter.Robot.
type Forklift struct {
	adapter.RobotBase

	mu    sync.Mutex
	clock clock.Clock
	opts  Options
	last  time.Time

	position r3.Vector
	yawDeg   float64
	yawRate  float64 // deg/s
	height   float64
	cmd      pdu.ActuatorCommand

	history []pdu.ActuatorCommand
	writes  int

	// Error simulation
	errs        map[string]error
	writeBudget int // writes left before ErrActuatorWrite, -1 for unlimited
}

var _ adapter.Robot = (*Forklift)(nil)

// NewForklift creates a fake forklift at the origin facing yaw 0.
func NewForklift(robotID string, clk clock.Clock) *Forklift {
	return NewForkliftWithOptions(robotID, clk, DefaultOptions())
}

// NewForkliftWithOptions creates a fake forklift with custom dynamics.
func NewForkliftWithOptions(robotID string, clk clock.Clock, opts Options) *Forklift {
	if opts.Step <= 0 {
		opts.Step = time.Millisecond
	}
	return &Forklift{
		RobotBase: adapter.RobotBase{
			RobotID: robotID,
			Model:   "Fake-Forklift",
		},
		clock:       clk,
		opts:        opts,
		last:        clk.Now(),
		errs:        make(map[string]error),
		writeBudget: -1,
	}
}

// ReadPose returns the integrated pose.
func (f *Forklift) ReadPose(ctx context.Context) (pdu.Pose, error) {
	select {
	case <-ctx.Done():
		return pdu.Pose{}, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()

	if err := f.errs[ChannelPose]; err != nil {
		return pdu.Pose{}, adapter.NormalizePortError(err, ChannelPose, adapter.ErrTelemetryUnavailable)
	}
	return pdu.Pose{Position: f.position, Yaw: normalizeRadians(f.yawDeg * math.Pi / 180)}, nil
}

// ReadHeight returns the integrated lift height.
func (f *Forklift) ReadHeight(ctx context.Context) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()

	if err := f.errs[ChannelHeight]; err != nil {
		return 0, adapter.NormalizePortError(err, ChannelHeight, adapter.ErrTelemetryUnavailable)
	}
	return f.height, nil
}

// ReadCommand returns the last written command.
func (f *Forklift) ReadCommand(ctx context.Context) (pdu.ActuatorCommand, error) {
	select {
	case <-ctx.Done():
		return pdu.ActuatorCommand{}, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()

	if err := f.errs[ChannelCommand]; err != nil {
		return pdu.ActuatorCommand{}, adapter.NormalizePortError(err, ChannelCommand, adapter.ErrActuatorWrite)
	}
	return f.cmd, nil
}

// WriteCommand replaces the active command. Motion up to now is integrated
// under the previous command first.
func (f *Forklift) WriteCommand(ctx context.Context, cmd pdu.ActuatorCommand) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()

	if err := f.errs[ChannelCommand]; err != nil {
		return adapter.NormalizePortError(err, ChannelCommand, adapter.ErrActuatorWrite)
	}
	if f.writeBudget == 0 {
		return adapter.NormalizePortError(errors.New("simulated write failure"), ChannelCommand, adapter.ErrActuatorWrite)
	}
	if f.writeBudget > 0 {
		f.writeBudget--
	}

	f.cmd = cmd
	f.writes++
	if f.opts.RecordHistory {
		f.history = append(f.history, cmd)
	}
	return nil
}

// advance integrates the dynamics from f.last to now. Caller holds f.mu.
func (f *Forklift) advance() {
	now := f.clock.Now()
	elapsed := now.Sub(f.last)
	f.last = now

	for elapsed > 0 {
		step := f.opts.Step
		if elapsed < step {
			step = elapsed
		}
		f.integrate(step.Seconds())
		elapsed -= step
	}
}

func (f *Forklift) integrate(dt float64) {
	yawCmd, forward, lift := 0.0, 0.0, 0.0
	if !f.cmd.Button[pdu.ButtonEmergencyStop] {
		// Negative stick turns left and drives forward.
		yawCmd = -f.cmd.Axis[pdu.AxisYaw]
		forward = -f.cmd.Axis[pdu.AxisForward]
		lift = f.cmd.Axis[pdu.AxisLift]
	}

	target := yawCmd * f.opts.YawRate
	if lag := f.opts.YawLag.Seconds(); lag > 0 {
		f.yawRate += (target - f.yawRate) * math.Min(dt/lag, 1)
	} else {
		f.yawRate = target
	}
	f.yawDeg += f.yawRate * dt

	v := forward * f.opts.Speed
	yaw := f.yawDeg * math.Pi / 180
	f.position.X += math.Cos(yaw) * v * dt
	f.position.Y += math.Sin(yaw) * v * dt

	f.height = pdu.Clamp(f.height+lift*f.opts.LiftRate*dt, f.opts.LiftMin, f.opts.LiftMax)
}

// Helper methods for testing

// SetPose places the robot. yawDeg is in degrees.
func (f *Forklift) SetPose(x, y, yawDeg float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	f.position = r3.Vector{X: x, Y: y}
	f.yawDeg = yawDeg
	f.yawRate = 0
}

// SetHeight places the lift.
func (f *Forklift) SetHeight(h float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	f.height = h
}

// SetErrorSimulation makes every access to channel fail with err.
func (f *Forklift) SetErrorSimulation(channel string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[channel] = err
}

// FailWritesAfter lets n more writes succeed and fails the rest.
func (f *Forklift) FailWritesAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeBudget = n
}

// DisableErrorSimulation clears all simulated errors.
func (f *Forklift) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = make(map[string]error)
	f.writeBudget = -1
}

// History returns a copy of every command written so far, or nil unless
// Options.RecordHistory is set.
func (f *Forklift) History() []pdu.ActuatorCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pdu.ActuatorCommand, len(f.history))
	copy(out, f.history)
	return out
}

// Writes returns the number of commands written so far.
func (f *Forklift) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Command returns the active command without integrating.
func (f *Forklift) Command() pdu.ActuatorCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmd
}

func normalizeRadians(r float64) float64 {
	r = math.Mod(r, 2*math.Pi)
	if r > math.Pi {
		r -= 2 * math.Pi
	} else if r <= -math.Pi {
		r += 2 * math.Pi
	}
	return r
}
