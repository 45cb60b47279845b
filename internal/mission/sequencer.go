package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/camera"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/telemetry"
)

// Motion is what a mission needs from the motion facade.
type Motion interface {
	RobotID() string
	SetHeading(ctx context.Context, deg float64) error
	Move(ctx context.Context, d float64) error
	LiftTo(ctx context.Context, h float64) error
}

// Capturer pulls images from cameras.
type Capturer interface {
	Names() []string
	Capture(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}

// AuditLogger records missions and captures.
type AuditLogger interface {
	LogAction(ctx context.Context, action, robotID string, params map[string]interface{}, err error, latency time.Duration)
}

// Operation is the primitive a step runs.
type Operation string

const (
	OpHeading Operation = "heading"
	OpLift    Operation = "lift"
	OpMove    Operation = "move"
)

// Step is one primitive of a mission.
type Step struct {
	Name  string    `json:"name"`
	Op    Operation `json:"op"`
	Value float64   `json:"value"`
}

// Plan returns the steps of one pick-and-drop mission.
func Plan(cfg config.MissionConfig) []Step {
	return []Step{
		{"RotateToPickup", OpHeading, cfg.PickupHeading},
		{"LowerLift", OpLift, cfg.LowerHeight},
		{"ApproachPickup", OpMove, cfg.PickupX},
		{"Grab", OpLift, cfg.GrabHeight},
		{"RetreatFromPickup", OpMove, -cfg.DropoffX},
		{"RotateToShelf", OpHeading, cfg.ShelfHeading},
		{"ApproachShelf", OpMove, cfg.DropoffY},
		{"Release", OpLift, cfg.ReleaseHeight},
		{"RetreatFromShelf", OpMove, -cfg.NextPickupY},
	}
}

// StepReport is the outcome of one step.
type StepReport struct {
	Mission   int       `json:"mission"`
	Step      string    `json:"step"`
	Op        Operation `json:"op"`
	Value     float64   `json:"value"`
	ElapsedMs int64     `json:"elapsedMs"`
	Error     string    `json:"error,omitempty"`
	Images    []string  `json:"images,omitempty"`
}

// Report is the outcome of one mission.
type Report struct {
	MissionID int          `json:"missionId"`
	Steps     []StepReport `json:"steps"`
	Error     string       `json:"error,omitempty"`
}

// Sequencer runs missions one after another.
type Sequencer struct {
	motion  Motion
	cameras Capturer
	sink    camera.ImageSink
	clock   clock.Clock
	cfg     config.MissionConfig

	telemetryHub *telemetry.Hub
	auditLogger  AuditLogger
	logger       *logrus.Entry

	capture   map[string]bool
	missionID int
}

// NewSequencer creates a sequencer. cameras, sink and hub may be nil.
func NewSequencer(motion Motion, cameras Capturer, sink camera.ImageSink, clk clock.Clock, cfg config.MissionConfig, hub *telemetry.Hub, logger *logrus.Logger) *Sequencer {
	capture := make(map[string]bool, len(cfg.CaptureAfter))
	for _, name := range cfg.CaptureAfter {
		capture[name] = true
	}
	return &Sequencer{
		motion:       motion,
		cameras:      cameras,
		sink:         sink,
		clock:        clk,
		cfg:          cfg,
		telemetryHub: hub,
		logger:       logger.WithFields(logrus.Fields{"component": "mission", "robot": motion.RobotID()}),
		capture:      capture,
	}
}

// SetAuditLogger sets the audit logger.
func (s *Sequencer) SetAuditLogger(logger AuditLogger) {
	s.auditLogger = logger
}

// MissionID returns the id of the last started mission, 0 before any.
func (s *Sequencer) MissionID() int {
	return s.missionID
}

// Run runs count missions. The first failed step ends the run; nothing is
// rolled back or retried. progress, if not nil, is called after every
// mission.
func (s *Sequencer) Run(ctx context.Context, count int, progress func(Report)) ([]Report, error) {
	var reports []Report
	for i := 0; i < count; i++ {
		report, err := s.RunMission(ctx)
		reports = append(reports, report)
		if progress != nil {
			progress(report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// RunMission runs one mission under a new mission id.
func (s *Sequencer) RunMission(ctx context.Context) (Report, error) {
	s.missionID++
	id := s.missionID
	start := s.clock.Now()
	report := Report{MissionID: id}
	log := s.logger.WithField("mission", id)
	log.Info("Mission started")

	var err error
	for _, step := range Plan(s.cfg) {
		var sr StepReport
		sr, err = s.runStep(ctx, id, step)
		report.Steps = append(report.Steps, sr)
		if err != nil {
			break
		}
	}

	params := map[string]interface{}{"missionId": id, "steps": len(report.Steps)}
	s.logAudit(ctx, "mission", params, err, s.clock.Now().Sub(start))
	s.publish(telemetry.EventMissionDone, map[string]interface{}{
		"missionId": id,
		"steps":     len(report.Steps),
		"ok":        err == nil,
	})

	if err != nil {
		report.Error = err.Error()
		log.WithError(err).Error("Mission failed")
		return report, fmt.Errorf("mission %d: %w", id, err)
	}
	log.Info("Mission completed")
	return report, nil
}

func (s *Sequencer) runStep(ctx context.Context, missionID int, step Step) (StepReport, error) {
	start := s.clock.Now()
	sr := StepReport{Mission: missionID, Step: step.Name, Op: step.Op, Value: step.Value}
	log := s.logger.WithFields(logrus.Fields{"mission": missionID, "step": step.Name})
	log.Infof("%s %s %.3f", step.Name, step.Op, step.Value)

	var err error
	switch step.Op {
	case OpHeading:
		err = s.motion.SetHeading(ctx, step.Value)
	case OpLift:
		err = s.motion.LiftTo(ctx, step.Value)
	case OpMove:
		err = s.motion.Move(ctx, step.Value)
	default:
		err = fmt.Errorf("%w: unknown operation %q", adapter.ErrInternal, step.Op)
	}
	if err == nil {
		err = s.clock.Sleep(ctx, s.cfg.SettleDelay)
	}
	if err == nil && s.capture[step.Name] {
		sr.Images = s.captureAll(ctx, missionID)
	}

	sr.ElapsedMs = s.clock.Now().Sub(start).Milliseconds()
	data := map[string]interface{}{
		"missionId": missionID,
		"step":      step.Name,
		"op":        string(step.Op),
		"value":     step.Value,
		"ok":        err == nil,
	}
	if err != nil {
		sr.Error = err.Error()
		data["error"] = err.Error()
	}
	s.publish(telemetry.EventMissionStep, data)
	if err != nil {
		return sr, fmt.Errorf("%s: %w", step.Name, err)
	}
	return sr, nil
}

// captureAll captures every camera. Failures are logged and skipped.
func (s *Sequencer) captureAll(ctx context.Context, missionID int) []string {
	if s.cameras == nil {
		return nil
	}

	var saved []string
	for _, name := range s.cameras.Names() {
		start := s.clock.Now()
		image, err := s.cameras.Capture(ctx, name, 0)
		if err == nil && s.sink != nil {
			err = s.sink.Save(ctx, name, missionID, image)
		}
		s.logAudit(ctx, "capture", map[string]interface{}{"camera": name, "missionId": missionID}, err, s.clock.Now().Sub(start))

		if err != nil {
			entry := s.logger.WithError(err).WithFields(logrus.Fields{"mission": missionID, "camera": name})
			if errors.Is(err, adapter.ErrCameraTimeout) {
				entry.Warn("No image")
			} else {
				entry.Error("Capture failed")
			}
			continue
		}
		saved = append(saved, name)
		s.publish(telemetry.EventImage, map[string]interface{}{
			"missionId": missionID,
			"camera":    name,
			"bytes":     len(image),
		})
	}
	return saved
}

func (s *Sequencer) publish(eventType string, data map[string]interface{}) {
	if s.telemetryHub == nil {
		return
	}
	data["robotId"] = s.motion.RobotID()
	data["ts"] = s.clock.Now().UTC().Format(time.RFC3339)
	if err := s.telemetryHub.PublishRobot(s.motion.RobotID(), telemetry.Event{Type: eventType, Data: data}); err != nil {
		s.logger.WithError(err).Debug("Failed to publish mission event")
	}
}

func (s *Sequencer) logAudit(ctx context.Context, action string, params map[string]interface{}, err error, latency time.Duration) {
	if s.auditLogger != nil {
		s.auditLogger.LogAction(ctx, action, s.motion.RobotID(), params, err, latency)
	}
}
