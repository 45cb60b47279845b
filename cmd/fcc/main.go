// Command fcc runs the forklift control core.
//
//	fcc serve    connect to the PDU bus and serve the control API
//	fcc mission  run the configured missions once and exit
//	fcc bridge   serve an in-memory PDU bus over websocket
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter/pdubus"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/api"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/audit"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/auth"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/bus"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/camera"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/gamepad"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/mission"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/motion"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/telemetry"
)

// Version of the control core.
const Version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "fcc"
	app.Usage = "forklift control core"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to a .yaml, .json or .toml config file",
			EnvVar: "FCC_CONFIG",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log.level (debug, info, warn, error)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "connect to the PDU bus and serve the control API",
			Action: serveCommand,
		},
		{
			Name:  "mission",
			Usage: "run the configured missions once and exit",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "count, n", Usage: "number of missions, overrides mission.count"},
			},
			Action: missionCommand,
		},
		{
			Name:  "bridge",
			Usage: "serve an in-memory PDU bus over websocket",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "simulate", Usage: "drive a kinematic forklift on the bus"},
			},
			Action: bridgeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fcc: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	logger.WithField("version", Version).Info("Forklift control core starting")
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// stack is the wired control core.
type stack struct {
	bus     bus.Bus
	hub     *telemetry.Hub
	audit   *audit.Logger
	facade  *motion.Facade
	cameras *camera.Manager
	seq     *mission.Sequencer
	runner  *mission.Runner
	closers []func() error
}

// build wires the control core on the configured bus. An empty bus URL
// runs against an in-process bus with a simulated forklift.
func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*stack, error) {
	s := &stack{}

	// Step 1: PDU bus
	if cfg.Bus.URL != "" {
		client, err := bus.Dial(ctx, cfg.Bus.URL, cfg.Bus.Timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to bus: %w", err)
		}
		s.bus = client
		s.closers = append(s.closers, client.Close)
	} else {
		logger.Warn("No bus URL configured, using an in-process bus with a simulated forklift")
		memory := bus.NewMemory()
		s.bus = memory
		simCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		go func() {
			if err := simulate(simCtx, memory, cfg.Robot, logger); err != nil {
				logger.WithError(err).Error("Simulation stopped")
			}
		}()
		s.closers = append(s.closers, func() error { cancel(); return nil })
	}

	// Step 2: telemetry hub and audit log
	s.hub = telemetry.NewHub(cfg.Telemetry, logger)
	s.closers = append(s.closers, func() error { s.hub.Stop(); return nil })

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		s.close(logger)
		return nil, fmt.Errorf("audit log: %w", err)
	}
	s.audit = auditLogger
	s.closers = append(s.closers, auditLogger.Close)

	// Step 3: ports and motion facade
	clk := clock.Real{}
	robot := pdubus.NewRobot(s.bus, cfg.Robot.ID, pdubus.Channels{
		Command: cfg.Robot.CommandChannel,
		Pose:    cfg.Robot.PoseChannel,
		Height:  cfg.Robot.HeightChannel,
	})
	s.facade = motion.NewFacade(robot, clk, cfg, s.hub, logger)
	s.facade.SetAuditLogger(auditLogger)

	// Step 4: cameras and missions
	cameraPort := pdubus.NewCamera(s.bus, pdubus.CameraChannels{
		Command: cfg.Camera.CommandChannel,
		Data:    cfg.Camera.DataChannel,
	})
	s.cameras = camera.NewManager(cameraPort, clk, cfg.Camera, logger)
	s.seq = mission.NewSequencer(s.facade, s.cameras, camera.FileSink{Dir: cfg.Camera.ImageDir}, clk, cfg.Mission, s.hub, logger)
	s.seq.SetAuditLogger(auditLogger)
	s.runner = mission.NewRunner(s.seq, logger)

	logger.WithFields(logrus.Fields{
		"robot":   cfg.Robot.ID,
		"cameras": s.cameras.Names(),
	}).Info("Control core initialized")
	return s, nil
}

// close releases resources in reverse order.
func (s *stack) close(logger *logrus.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.WithError(err).Warn("Shutdown step failed")
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	s, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close(logger)

	var authMiddleware *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifierFromConfig(cfg.Auth)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		authMiddleware = auth.NewMiddleware(verifier, logger)
	}

	server := api.NewServer(api.Services{
		Motion:    s.facade,
		Missions:  s.runner,
		Gamepad:   gamepad.NewBridge(s.facade, cfg.Gamepad, logger),
		Cameras:   s.cameras,
		Telemetry: s.hub,
	}, authMiddleware, cfg.API, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.API.Listen)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	s.runner.Shutdown()
	if err := s.facade.Stop(context.Background()); err != nil {
		logger.WithError(err).Warn("Final stop failed")
	}
	if err := server.Stop(context.Background()); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	logger.Info("Forklift control core stopped")
	return nil
}

func missionCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	count := cfg.Mission.Count
	if c.IsSet("count") {
		count = c.Int("count")
	}
	if count < 1 {
		return fmt.Errorf("mission count must be at least 1, got %d", count)
	}

	ctx, stop := signalContext()
	defer stop()

	s, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close(logger)

	reports, err := s.seq.Run(ctx, count, func(r mission.Report) {
		logger.WithFields(logrus.Fields{"mission": r.MissionID, "steps": len(r.Steps)}).Info("Mission finished")
	})
	if stopErr := s.facade.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		logger.WithError(stopErr).Warn("Final stop failed")
	}
	if err != nil {
		return fmt.Errorf("%d of %d missions completed: %w", len(reports)-1, count, err)
	}
	logger.WithField("missions", len(reports)).Info("All missions completed")
	return nil
}

func bridgeCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	memory := bus.NewMemory()
	if c.Bool("simulate") {
		go func() {
			if err := simulate(ctx, memory, cfg.Robot, logger); err != nil {
				logger.WithError(err).Error("Simulation stopped")
			}
		}()
	}

	server := &http.Server{Addr: cfg.Bus.Listen, Handler: bus.NewHandler(memory, logger), ReadHeaderTimeout: cfg.API.ReadTimeout}
	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Bus.Listen).Info("PDU bus bridge listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
