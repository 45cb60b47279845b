package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter/fake"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/auth"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/camera"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/gamepad"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/mission"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/motion"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/telemetry"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type rig struct {
	handler http.Handler
	robot   *fake.Forklift
	runner  *mission.Runner
	hub     *telemetry.Hub
}

// newRig wires the API to a fake forklift and camera on a manual clock.
func newRig(t *testing.T, m *auth.Middleware) *rig {
	t.Helper()
	cfg := config.Baseline()
	cfg.Camera.Names = []string{"Monitor_1", "Monitor_2"}
	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(epoch)

	robot := fake.NewForklift("forklift", clk)
	hub := telemetry.NewHub(cfg.Telemetry, logger)
	t.Cleanup(hub.Stop)
	facade := motion.NewFacade(robot, clk, cfg, hub, logger)

	camPort := fake.NewCamera(clk)
	camPort.AddCamera("Monitor_1", []byte("png-bytes"), fake.CameraRespond, 10*time.Millisecond)
	camPort.AddCamera("Monitor_2", []byte("never"), fake.CameraSilent, 0)
	cams := camera.NewManager(camPort, clk, cfg.Camera, logger)

	seq := mission.NewSequencer(facade, cams, nil, clk, cfg.Mission, hub, logger)
	runner := mission.NewRunner(seq, logger)
	t.Cleanup(runner.Shutdown)

	server := NewServer(Services{
		Motion:    facade,
		Missions:  runner,
		Gamepad:   gamepad.NewBridge(facade, cfg.Gamepad, logger),
		Cameras:   cams,
		Telemetry: hub,
	}, m, cfg.API, logger)

	return &rig{handler: server.Handler(), robot: robot, runner: runner, hub: hub}
}

func (r *rig) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	resp := Response{Data: data}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if resp.CorrelationID == "" {
		t.Error("response lacks correlationId")
	}
	return resp
}

func TestHealth(t *testing.T) {
	r := newRig(t, nil)
	w := r.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var data map[string]interface{}
	resp := decode(t, w, &data)
	if resp.Result != "ok" || data["robotId"] != "forklift" || data["status"] != "ok" {
		t.Errorf("health = %+v %v", resp, data)
	}
	if data["model"] != "Fake-Forklift" {
		t.Errorf("model = %v, want Fake-Forklift", data["model"])
	}
}

func TestHealthDegradedOnTelemetryFailure(t *testing.T) {
	tests := []struct {
		name    string
		channel string
	}{
		{"pose lost", fake.ChannelPose},
		{"height lost", fake.ChannelHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, nil)
			r.robot.SetErrorSimulation(tt.channel, errors.New("sensor offline"))

			w := r.do(t, http.MethodGet, "/api/v1/health", "", "")
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503: %s", w.Code, w.Body.String())
			}
			var resp struct {
				Result  string                 `json:"result"`
				Code    string                 `json:"code"`
				Details map[string]interface{} `json:"details"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != "SERVICE_DEGRADED" || resp.Details["status"] != "degraded" {
				t.Errorf("response = %+v", resp)
			}
			if resp.Details["telemetryError"] != "TELEMETRY_UNAVAILABLE" {
				t.Errorf("telemetryError = %v", resp.Details["telemetryError"])
			}
		})
	}
}

func TestHealthDegraded(t *testing.T) {
	logger, _ := test.NewNullLogger()
	server := NewServer(Services{}, nil, config.Baseline().API, logger)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRobotPrimitives(t *testing.T) {
	r := newRig(t, nil)

	w := r.do(t, http.MethodPost, "/api/v1/robot/move", `{"distance": 0.5}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("move status = %d: %s", w.Code, w.Body.String())
	}
	var state RobotState
	decode(t, w, &state)
	if math.Abs(state.Pose.X-0.5) > 0.02 {
		t.Errorf("x after move = %v, want 0.5", state.Pose.X)
	}
	if !state.Command.Halted() {
		t.Errorf("command after move = %+v, want halted", state.Command)
	}

	w = r.do(t, http.MethodPost, "/api/v1/robot/heading", `{"degrees": 90}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("heading status = %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &state)
	if math.Abs(state.Pose.YawDeg-90) > 0.5 {
		t.Errorf("yaw = %v, want 90", state.Pose.YawDeg)
	}

	w = r.do(t, http.MethodPost, "/api/v1/robot/lift", `{"height": 0.3}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("lift status = %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &state)
	if math.Abs(state.Height-0.3) >= 0.01 {
		t.Errorf("height = %v, want 0.3", state.Height)
	}

	w = r.do(t, http.MethodPost, "/api/v1/robot/turn", `{"degrees": -45}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("turn status = %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &state)
	if math.Abs(state.Pose.YawDeg-45) > 0.5 {
		t.Errorf("yaw after turn = %v, want 45", state.Pose.YawDeg)
	}

	w = r.do(t, http.MethodPost, "/api/v1/robot/stop", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("stop status = %d", w.Code)
	}
}

func TestRobotErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(*fake.Forklift)
		status int
		code   string
	}{
		{"malformed json", "/api/v1/robot/move", `{"distance":`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing field", "/api/v1/robot/turn", `{"deg": 5}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"lift out of range", "/api/v1/robot/lift", `{"height": 2}`, nil, http.StatusBadRequest, "INVALID_RANGE"},
		{
			"telemetry failure", "/api/v1/robot/turn", `{"degrees": 10}`,
			func(f *fake.Forklift) { f.SetErrorSimulation(fake.ChannelPose, errors.New("no data")) },
			http.StatusServiceUnavailable, "TELEMETRY_UNAVAILABLE",
		},
		{
			"actuator failure", "/api/v1/robot/move", `{"distance": 1}`,
			func(f *fake.Forklift) { f.FailWritesAfter(3) },
			http.StatusBadGateway, "ACTUATOR_WRITE_FAILURE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, nil)
			if tt.setup != nil {
				tt.setup(r.robot)
			}
			w := r.do(t, http.MethodPost, tt.path, tt.body, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			resp := decode(t, w, nil)
			if resp.Result != "error" || resp.Code != tt.code {
				t.Errorf("response = %+v, want code %s", resp, tt.code)
			}
		})
	}
}

// busyMissions reports a running mission.
type busyMissions struct{}

func (busyMissions) Start(ctx context.Context, count int) (mission.Run, error) {
	return mission.Run{}, nil
}
func (busyMissions) Get(id string) (mission.Run, error) { return mission.Run{}, mission.ErrNotFound }
func (busyMissions) Cancel(id string) error             { return nil }
func (busyMissions) Busy() bool                         { return true }
func (busyMissions) AcquireManual() (func(), error) {
	return nil, fmt.Errorf("%w: mission running", adapter.ErrBusy)
}

func TestManualControlRefusedDuringMission(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(epoch)
	robot := fake.NewForklift("forklift", clk)
	cfg := config.Baseline()
	facade := motion.NewFacade(robot, clk, cfg, nil, logger)
	server := NewServer(Services{
		Motion:   facade,
		Missions: busyMissions{},
		Gamepad:  gamepad.NewBridge(facade, cfg.Gamepad, logger),
	}, nil, cfg.API, logger)
	handler := server.Handler()

	for _, path := range []string{"/api/v1/robot/move", "/api/v1/gamepad"} {
		body := `{"distance": 1}`
		if strings.HasSuffix(path, "gamepad") {
			body = `{"events":[{"kind":"axis","index":3,"value":-1}]}`
		}
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"BUSY"`) {
			t.Errorf("%s: status = %d body = %s, want BUSY", path, w.Code, w.Body.String())
		}
	}

	// Stop stays available.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/robot/stop", nil))
	if w.Code != http.StatusOK {
		t.Errorf("stop during mission: status = %d", w.Code)
	}
	if robot.Writes() != 1 {
		t.Errorf("writes = %d, want only the stop", robot.Writes())
	}
}

// reservingMissions counts manual reservations.
type reservingMissions struct {
	busyMissions
	held, acquired int
}

func (m *reservingMissions) Busy() bool { return false }
func (m *reservingMissions) AcquireManual() (func(), error) {
	m.held++
	m.acquired++
	return func() { m.held-- }, nil
}

func TestManualControlReservesRobot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(epoch)
	robot := fake.NewForklift("forklift", clk)
	cfg := config.Baseline()
	facade := motion.NewFacade(robot, clk, cfg, nil, logger)
	missions := &reservingMissions{}
	handler := NewServer(Services{Motion: facade, Missions: missions}, nil, cfg.API, logger).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/robot/lift", strings.NewReader(`{"height": 0.1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if missions.acquired != 1 || missions.held != 0 {
		t.Errorf("acquired = %d held = %d, want one reservation released", missions.acquired, missions.held)
	}
}

func TestMissionEndpoints(t *testing.T) {
	r := newRig(t, nil)

	w := r.do(t, http.MethodPost, "/api/v1/missions", `{"count": 1}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	var run mission.Run
	decode(t, w, &run)
	if run.ID != "run-1" {
		t.Fatalf("run id = %q", run.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.runner.Wait(ctx, run.ID); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}

	w = r.do(t, http.MethodGet, "/api/v1/missions/run-1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	decode(t, w, &run)
	if run.Status != mission.StatusCompleted || run.Completed != 1 || len(run.Reports[0].Steps) != 9 {
		t.Errorf("run = %+v", run)
	}

	if w := r.do(t, http.MethodGet, "/api/v1/missions/run-7", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", w.Code)
	}
	if w := r.do(t, http.MethodPost, "/api/v1/missions/run-7/cancel", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("cancel unknown run status = %d, want 404", w.Code)
	}
	if w := r.do(t, http.MethodPost, "/api/v1/missions", `{"count": 0}`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("count 0 status = %d, want 400", w.Code)
	}
}

func TestGamepadEndpoint(t *testing.T) {
	r := newRig(t, nil)

	body := `{"events":[{"kind":"axis","index":3,"value":-0.5},{"kind":"axis","index":2,"value":0.02},{"kind":"button","index":0,"pressed":true}]}`
	w := r.do(t, http.MethodPost, "/api/v1/gamepad", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	cmd := r.robot.Command()
	if cmd.Axis[pdu.AxisForward] != -0.5 || cmd.Axis[pdu.AxisYaw] != 0 || !cmd.Button[pdu.ButtonEmergencyStop] {
		t.Errorf("command = %+v", cmd)
	}

	w = r.do(t, http.MethodPost, "/api/v1/gamepad", `{"events":[{"kind":"axis","index":9,"value":1}]}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid events status = %d, want 400", w.Code)
	}
}

func TestCameraEndpoints(t *testing.T) {
	r := newRig(t, nil)

	w := r.do(t, http.MethodGet, "/api/v1/cameras/Monitor_1/image", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), []byte("png-bytes")) {
		t.Errorf("image = %q", w.Body.Bytes())
	}

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/cameras/Monitor_2/image?timeout=50ms", http.StatusGatewayTimeout},
		{"/api/v1/cameras/Monitor_9/image", http.StatusBadRequest},
		{"/api/v1/cameras/Monitor_1/image?timeout=soon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := r.do(t, http.MethodGet, tt.path, "", ""); w.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.status)
		}
	}

	w = r.do(t, http.MethodGet, "/api/v1/cameras", "", "")
	var data map[string][]string
	decode(t, w, &data)
	if strings.Join(data["cameras"], ",") != "Monitor_1,Monitor_2" {
		t.Errorf("cameras = %v", data["cameras"])
	}
}

func TestAuthEnforced(t *testing.T) {
	const secret = "api-secret"
	logger, _ := test.NewNullLogger()
	v, err := auth.NewVerifier(auth.VerifierConfig{Algorithm: auth.AlgorithmHS256, SecretKey: secret})
	if err != nil {
		t.Fatalf("NewVerifier() failed: %v", err)
	}
	r := newRig(t, auth.NewMiddleware(v, logger))

	viewer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "viewer-1",
		"roles":  []string{auth.RoleViewer},
		"scopes": []string{auth.ScopeRead, auth.ScopeTelemetry},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"robot needs token", http.MethodGet, "/api/v1/robot", "", http.StatusUnauthorized},
		{"viewer reads robot", http.MethodGet, "/api/v1/robot", viewer, http.StatusOK},
		{"viewer cannot move", http.MethodPost, "/api/v1/robot/stop", viewer, http.StatusForbidden},
		{"viewer cannot capture", http.MethodGet, "/api/v1/cameras/Monitor_1/image", viewer, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := r.do(t, tt.method, tt.path, "", tt.token); w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestTelemetryStream(t *testing.T) {
	r := newRig(t, nil)
	srv := httptest.NewServer(r.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/telemetry?robot=forklift", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /telemetry: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	sawReady := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: ready" {
			sawReady = true
			_ = r.hub.PublishRobot("forklift", telemetry.Event{Type: telemetry.EventFault, Data: map[string]interface{}{"code": "TEST"}})
		}
		if sawReady && line == "event: fault" {
			return
		}
	}
	t.Fatalf("stream ended before ready and fault events: %v", scanner.Err())
}

func TestCORSPreflight(t *testing.T) {
	r := newRig(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/robot/stop", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
