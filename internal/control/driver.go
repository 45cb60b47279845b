package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
)

// Status is the outcome of one tick.
type Status int

const (
	// Continue asks the driver for another tick.
	Continue Status = iota
	// Converged means the goal is reached and the robot is halted.
	Converged
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "continue"
	case Converged:
		return "converged"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Primitive is one motion goal in progress. A non-nil error from Tick
// means the primitive failed.
type Primitive interface {
	Name() string
	Tick(ctx context.Context) (Status, error)
}

// ErrTickBudget means a primitive did not converge within MaxTicks.
var ErrTickBudget = errors.New("tick budget exhausted")

// Result summarizes a driven primitive.
type Result struct {
	Ticks   int
	Elapsed time.Duration
}

// Driver runs primitives at a fixed period. Sleeping between ticks is the
// only suspension point.
type Driver struct {
	Clock    clock.Clock
	Period   time.Duration
	MaxTicks int // 0 for no limit
}

// Run ticks p until it converges, fails, exceeds MaxTicks, or ctx ends.
// Cancellation is checked before every tick.
func (d Driver) Run(ctx context.Context, p Primitive) (Result, error) {
	start := d.Clock.Now()
	var res Result

	for {
		if err := ctx.Err(); err != nil {
			res.Elapsed = d.Clock.Now().Sub(start)
			return res, err
		}
		if d.MaxTicks > 0 && res.Ticks >= d.MaxTicks {
			res.Elapsed = d.Clock.Now().Sub(start)
			return res, fmt.Errorf("%s: %w after %d ticks", p.Name(), ErrTickBudget, res.Ticks)
		}

		status, err := p.Tick(ctx)
		res.Ticks++
		if err != nil {
			res.Elapsed = d.Clock.Now().Sub(start)
			return res, err
		}
		if status == Converged {
			res.Elapsed = d.Clock.Now().Sub(start)
			return res, nil
		}

		if err := d.Clock.Sleep(ctx, d.Period); err != nil {
			res.Elapsed = d.Clock.Now().Sub(start)
			return res, err
		}
	}
}

// writeAxis sets one axis through a read-modify-write of the command word.
func writeAxis(ctx context.Context, port adapter.ActuatorPort, axis int, value float64) error {
	cmd, err := port.ReadCommand(ctx)
	if err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	cmd.SetAxis(axis, value)
	if err := port.WriteCommand(ctx, cmd); err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	return nil
}

// Halt zeroes yaw, lift and forward and releases the emergency stop in one
// read-modify-write.
func Halt(ctx context.Context, port adapter.ActuatorPort) error {
	cmd, err := port.ReadCommand(ctx)
	if err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	cmd.Halt()
	if err := port.WriteCommand(ctx, cmd); err != nil {
		return adapter.NormalizePortError(err, "command", adapter.ErrActuatorWrite)
	}
	return nil
}

func telemetryError(err error, channel string) error {
	return adapter.NormalizePortError(err, channel, adapter.ErrTelemetryUnavailable)
}
