package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/auth"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/gamepad"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// RegisterRoutes registers the v1 endpoints on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	// Health endpoint (no auth required)
	v1.GET("/health", s.handleHealth)

	m := s.authMiddleware
	authed := v1.Group("", m.RequireAuth())

	read := authed.Group("", m.RequireScope(auth.ScopeRead))
	{
		read.GET("/robot", s.handleRobot)
		read.GET("/missions/:id", s.handleGetMission)
		read.GET("/cameras", s.handleCameras)
	}

	control := authed.Group("", m.RequireScope(auth.ScopeControl))
	{
		robot := control.Group("/robot")
		{
			robot.POST("/stop", s.handleStop)
			robot.POST("/turn", s.handleTurn)
			robot.POST("/heading", s.handleHeading)
			robot.POST("/move", s.handleMove)
			robot.POST("/lift", s.handleLift)
		}
		control.POST("/missions", s.handleStartMission)
		control.POST("/missions/:id/cancel", s.handleCancelMission)
		control.POST("/gamepad", s.handleGamepad)
		control.GET("/cameras/:name/image", s.handleCaptureImage)
	}

	authed.GET("/telemetry", m.RequireScope(auth.ScopeTelemetry), s.handleTelemetry)
}

// PoseView is the JSON shape of a pose.
type PoseView struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	YawDeg float64 `json:"yawDeg"`
}

// RobotState is returned by GET /robot and after each primitive.
type RobotState struct {
	RobotID string              `json:"robotId"`
	Model   string              `json:"model"`
	Pose    PoseView            `json:"pose"`
	Height  float64             `json:"height"`
	Command pdu.ActuatorCommand `json:"command"`
	Mission bool                `json:"missionActive"`
}

func (s *Server) handleHealth(c *gin.Context) {
	subsystems := map[string]bool{
		"motion":    s.services.Motion != nil,
		"missions":  s.services.Missions != nil,
		"cameras":   s.services.Cameras != nil,
		"gamepad":   s.services.Gamepad != nil,
		"telemetry": s.services.Telemetry != nil,
	}
	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  int64(time.Since(s.startTime).Seconds()),
		"subsystems": subsystems,
		"auth":       s.authMiddleware.Enabled(),
		"version":    "1.0.0",
	}

	if s.services.Motion == nil || s.services.Missions == nil {
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, ErrorResponse("SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health))
		return
	}
	health["robotId"] = s.services.Motion.RobotID()
	health["model"] = s.services.Motion.RobotModel()

	if err := s.checkTelemetry(c.Request.Context()); err != nil {
		s.logger.WithError(err).Warn("Health check could not read telemetry")
		health["status"] = "degraded"
		subsystems["telemetry"] = false
		code := "ERROR"
		if sentinel := adapter.CodeOf(err); sentinel != nil {
			code = sentinel.Error()
		}
		health["telemetryError"] = code
		c.JSON(http.StatusServiceUnavailable, ErrorResponse("SERVICE_DEGRADED",
			"Robot telemetry cannot be read", health))
		return
	}
	WriteSuccess(c, health)
}

// checkTelemetry reads pose and height once.
func (s *Server) checkTelemetry(ctx context.Context) error {
	if _, err := s.services.Motion.Pose(ctx); err != nil {
		return err
	}
	_, err := s.services.Motion.Height(ctx)
	return err
}

func (s *Server) robotState(c *gin.Context) (RobotState, error) {
	ctx := c.Request.Context()
	m := s.services.Motion

	pose, err := m.Pose(ctx)
	if err != nil {
		return RobotState{}, err
	}
	height, err := m.Height(ctx)
	if err != nil {
		return RobotState{}, err
	}
	cmd, err := m.Command(ctx)
	if err != nil {
		return RobotState{}, err
	}
	return RobotState{
		RobotID: m.RobotID(),
		Model:   m.RobotModel(),
		Pose:    PoseView{X: pose.Position.X, Y: pose.Position.Y, YawDeg: pose.YawDegrees()},
		Height:  height,
		Command: cmd,
		Mission: s.services.Missions.Busy(),
	}, nil
}

func (s *Server) handleRobot(c *gin.Context) {
	state, err := s.robotState(c)
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteSuccess(c, state)
}

// Stop is always allowed, also while a mission runs.
func (s *Server) handleStop(c *gin.Context) {
	if err := s.services.Motion.Stop(c.Request.Context()); err != nil {
		WriteError(c, err)
		return
	}
	s.respondState(c)
}

type degreesRequest struct {
	Degrees *float64 `json:"degrees" binding:"required"`
}

type distanceRequest struct {
	Distance *float64 `json:"distance" binding:"required"`
}

type heightRequest struct {
	Height *float64 `json:"height" binding:"required"`
}

func (s *Server) handleTurn(c *gin.Context) {
	var req degreesRequest
	release, ok := s.bindManual(c, &req)
	if !ok {
		return
	}
	defer release()
	s.runPrimitive(c, s.services.Motion.Turn(c.Request.Context(), *req.Degrees))
}

func (s *Server) handleHeading(c *gin.Context) {
	var req degreesRequest
	release, ok := s.bindManual(c, &req)
	if !ok {
		return
	}
	defer release()
	s.runPrimitive(c, s.services.Motion.SetHeading(c.Request.Context(), *req.Degrees))
}

func (s *Server) handleMove(c *gin.Context) {
	var req distanceRequest
	release, ok := s.bindManual(c, &req)
	if !ok {
		return
	}
	defer release()
	s.runPrimitive(c, s.services.Motion.Move(c.Request.Context(), *req.Distance))
}

func (s *Server) handleLift(c *gin.Context) {
	var req heightRequest
	release, ok := s.bindManual(c, &req)
	if !ok {
		return
	}
	defer release()
	s.runPrimitive(c, s.services.Motion.LiftTo(c.Request.Context(), *req.Height))
}

// bindManual decodes a manual control request and reserves the robot
// against mission starts. Manual control is refused while a mission runs.
// The caller must call release once the operation is done.
func (s *Server) bindManual(c *gin.Context, req interface{}) (release func(), ok bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		WriteError(c, badRequest(err))
		return nil, false
	}
	release, err := s.services.Missions.AcquireManual()
	if err != nil {
		WriteError(c, err)
		return nil, false
	}
	return release, true
}

func (s *Server) runPrimitive(c *gin.Context, err error) {
	if err != nil {
		WriteError(c, err)
		return
	}
	s.respondState(c)
}

func (s *Server) respondState(c *gin.Context) {
	state, err := s.robotState(c)
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteSuccess(c, state)
}

type missionRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleStartMission(c *gin.Context) {
	req := missionRequest{Count: 1}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			WriteError(c, badRequest(err))
			return
		}
	}

	run, err := s.services.Missions.Start(c.Request.Context(), req.Count)
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteAccepted(c, run)
}

func (s *Server) handleGetMission(c *gin.Context) {
	run, err := s.services.Missions.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteSuccess(c, run)
}

func (s *Server) handleCancelMission(c *gin.Context) {
	id := c.Param("id")
	if err := s.services.Missions.Cancel(id); err != nil {
		WriteError(c, err)
		return
	}
	run, err := s.services.Missions.Get(id)
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteAccepted(c, run)
}

type gamepadRequest struct {
	Events []gamepad.Event `json:"events" binding:"required"`
}

func (s *Server) handleGamepad(c *gin.Context) {
	if s.services.Gamepad == nil {
		writeUnavailable(c, "gamepad")
		return
	}
	var req gamepadRequest
	release, ok := s.bindManual(c, &req)
	if !ok {
		return
	}
	defer release()
	cmd, err := s.services.Gamepad.Apply(c.Request.Context(), req.Events)
	if err != nil {
		WriteError(c, err)
		return
	}
	WriteSuccess(c, map[string]interface{}{"command": cmd})
}

func (s *Server) handleCameras(c *gin.Context) {
	if s.services.Cameras == nil {
		writeUnavailable(c, "cameras")
		return
	}
	WriteSuccess(c, map[string]interface{}{"cameras": s.services.Cameras.Names()})
}

// handleCaptureImage returns the raw PNG. ?timeout= overrides the
// configured camera timeout.
func (s *Server) handleCaptureImage(c *gin.Context) {
	if s.services.Cameras == nil {
		writeUnavailable(c, "cameras")
		return
	}

	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			WriteError(c, fmt.Errorf("%w: invalid timeout %q", adapter.ErrInvalidRange, raw))
			return
		}
		timeout = d
	}

	image, err := s.services.Cameras.Capture(c.Request.Context(), c.Param("name"), timeout)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", image)
}

func (s *Server) handleTelemetry(c *gin.Context) {
	if s.services.Telemetry == nil {
		writeUnavailable(c, "telemetry")
		return
	}
	if err := s.services.Telemetry.Subscribe(c.Request.Context(), c.Writer, c.Request); err != nil {
		s.logger.WithError(err).Debug("Telemetry stream ended")
	}
}

func writeUnavailable(c *gin.Context, subsystem string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable,
		ErrorResponse("UNAVAILABLE", fmt.Sprintf("%s not available", subsystem), nil))
}
