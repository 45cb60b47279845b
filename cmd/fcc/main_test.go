package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/bus"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("newLogger() failed: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", logger.Formatter)
	}
	if _, err := newLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("newLogger() accepted an unknown level")
	}
}

// stepClock stops the simulation after a fixed number of sleeps.
type stepClock struct {
	*clock.Manual
	steps  int
	cancel context.CancelFunc
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.steps--
	if c.steps <= 0 {
		c.cancel()
	}
	return c.Manual.Sleep(ctx, d)
}

func TestSimulatePublishesTelemetry(t *testing.T) {
	cfg := config.Baseline().Robot
	memory := bus.NewMemory()
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cmd pdu.ActuatorCommand
	cmd.SetAxis(pdu.AxisForward, -1)
	cmd.SetAxis(pdu.AxisLift, 1)
	if err := bus.WriteJSON(ctx, memory, bus.Key{Entity: cfg.ID, Channel: cfg.CommandChannel}, cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}

	clk := &stepClock{Manual: clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), steps: 101, cancel: cancel}
	if err := simulateWith(ctx, memory, cfg, newSimulatedForklift(cfg.ID, clk), clk, 10*time.Millisecond, logger); err != nil {
		t.Fatalf("simulateWith() failed: %v", err)
	}

	var twist pdu.Twist
	if err := bus.ReadJSON(context.Background(), memory, bus.Key{Entity: cfg.ID, Channel: cfg.PoseChannel}, &twist); err != nil {
		t.Fatalf("read pose: %v", err)
	}
	if math.Abs(twist.Linear.X-1.0) > 0.02 {
		t.Errorf("x after 1s at full forward = %v, want 1.0", twist.Linear.X)
	}

	var height pdu.Float64
	if err := bus.ReadJSON(context.Background(), memory, bus.Key{Entity: cfg.ID, Channel: cfg.HeightChannel}, &height); err != nil {
		t.Fatalf("read height: %v", err)
	}
	if math.Abs(height.Data-0.5) > 0.02 {
		t.Errorf("height after 1s = %v, want 0.5", height.Data)
	}
}

// commandFlipper writes a new command before every step, the way a
// heading loop does.
type commandFlipper struct {
	*stepClock
	memory *bus.Memory
	key    bus.Key
	n      int
}

func (c *commandFlipper) Sleep(ctx context.Context, d time.Duration) error {
	c.n++
	var cmd pdu.ActuatorCommand
	cmd.SetAxis(pdu.AxisYaw, float64(c.n%10)/10)
	if err := bus.WriteJSON(ctx, c.memory, c.key, cmd); err != nil {
		return err
	}
	return c.stepClock.Sleep(ctx, d)
}

func TestSimulatorKeepsNoCommandHistory(t *testing.T) {
	cfg := config.Baseline().Robot
	memory := bus.NewMemory()
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &stepClock{Manual: clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), steps: 500, cancel: cancel}
	clk := &commandFlipper{stepClock: base, memory: memory, key: bus.Key{Entity: cfg.ID, Channel: cfg.CommandChannel}}
	robot := newSimulatedForklift(cfg.ID, clk)

	if err := simulateWith(ctx, memory, cfg, robot, clk, time.Millisecond, logger); err != nil {
		t.Fatalf("simulateWith() failed: %v", err)
	}
	if robot.Writes() < 400 {
		t.Fatalf("Writes() = %d, want a changed command applied on most steps", robot.Writes())
	}
	if got := len(robot.History()); got != 0 {
		t.Errorf("simulator retained %d commands", got)
	}
}
