package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter/fake"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/bus"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// simulationStep is the bus exchange period of the simulated forklift.
const simulationStep = time.Millisecond

// simulate runs a kinematic forklift on b until ctx ends. Each step the
// command channel is applied to the model and pose and height are
// published back.
func simulate(ctx context.Context, b bus.Bus, cfg config.RobotConfig, logger *logrus.Logger) error {
	clk := clock.Real{}
	return simulateWith(ctx, b, cfg, newSimulatedForklift(cfg.ID, clk), clk, simulationStep, logger)
}

// newSimulatedForklift builds a forklift for long runs; it keeps no
// command history.
func newSimulatedForklift(robotID string, clk clock.Clock) *fake.Forklift {
	opts := fake.DefaultOptions()
	opts.RecordHistory = false
	return fake.NewForkliftWithOptions(robotID, clk, opts)
}

func simulateWith(ctx context.Context, b bus.Bus, cfg config.RobotConfig, robot *fake.Forklift, clk clock.Clock, step time.Duration, logger *logrus.Logger) error {
	log := logger.WithFields(logrus.Fields{"component": "simulator", "robot": cfg.ID})
	cmdKey := bus.Key{Entity: cfg.ID, Channel: cfg.CommandChannel}
	poseKey := bus.Key{Entity: cfg.ID, Channel: cfg.PoseChannel}
	heightKey := bus.Key{Entity: cfg.ID, Channel: cfg.HeightChannel}

	log.Info("Simulated forklift running")
	for {
		var cmd pdu.ActuatorCommand
		err := bus.ReadJSON(ctx, b, cmdKey, &cmd)
		switch {
		case err == nil:
			if cmd != robot.Command() {
				if err := robot.WriteCommand(ctx, cmd); err != nil {
					return err
				}
			}
		case errors.Is(err, bus.ErrNoData):
		case ctx.Err() != nil:
			return nil
		default:
			log.WithError(err).Debug("Command read failed")
		}

		pose, err := robot.ReadPose(ctx)
		if err == nil {
			err = bus.WriteJSON(ctx, b, poseKey, pose.Twist())
		}
		var height float64
		if err == nil {
			height, err = robot.ReadHeight(ctx)
		}
		if err == nil {
			err = bus.WriteJSON(ctx, b, heightKey, pdu.Float64{Data: height})
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := clk.Sleep(ctx, step); err != nil {
			return nil
		}
	}
}
