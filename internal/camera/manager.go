package camera

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// Camera is the per-camera protocol state.
type Camera struct {
	Name string

	mu     sync.Mutex
	nextID int32
}

// NextRequestID returns the id the next exchange will use.
func (c *Camera) NextRequestID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

// Manager captures images from a fixed set of cameras.
type Manager struct {
	port    adapter.CameraPort
	clock   clock.Clock
	cfg     config.CameraConfig
	logger  *logrus.Entry
	cameras map[string]*Camera
}

// MatchNames returns the names matching pattern, in order.
func MatchNames(names []string, pattern string) []string {
	var out []string
	for _, name := range names {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			out = append(out, name)
		}
	}
	return out
}

// NewManager registers every configured camera whose name matches the
// configured pattern.
func NewManager(port adapter.CameraPort, clk clock.Clock, cfg config.CameraConfig, logger *logrus.Logger) *Manager {
	m := &Manager{
		port:    port,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.WithField("component", "camera"),
		cameras: make(map[string]*Camera),
	}
	for _, name := range MatchNames(cfg.Names, cfg.Pattern) {
		m.cameras[name] = &Camera{Name: name, nextID: 1}
	}
	return m
}

// Names returns the registered camera names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.cameras))
	for name := range m.cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Camera returns the named camera.
func (m *Manager) Camera(name string) (*Camera, bool) {
	cam, ok := m.cameras[name]
	return cam, ok
}

// Capture requests one image from the named camera and polls for the
// response carrying the same request id. A zero timeout uses the
// configured one. On timeout it returns ErrCameraTimeout. The
// acknowledgement is written and the request id advanced whatever the
// outcome.
func (m *Manager) Capture(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	cam, ok := m.cameras[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown camera %q", adapter.ErrInvalidRange, name)
	}
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()

	id := cam.nextID
	req := pdu.CameraRequest{
		Header:     pdu.CameraHeader{Request: 1},
		RequestID:  id,
		EncodeType: 0,
	}
	if err := m.port.WriteRequest(ctx, name, req); err != nil {
		return nil, adapter.NormalizePortError(err, name, adapter.ErrInternal)
	}

	image, pollErr := m.poll(ctx, name, id, timeout)

	// The ack must go out even when ctx is already done.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	req.Header.Request = 0
	req.Header.Result = 0
	ackErr := m.port.WriteRequest(ackCtx, name, req)
	cam.nextID++

	if pollErr != nil {
		return nil, pollErr
	}
	if ackErr != nil {
		return nil, adapter.NormalizePortError(ackErr, name, adapter.ErrInternal)
	}
	m.logger.WithFields(logrus.Fields{"camera": name, "requestId": id, "bytes": len(image)}).Debug("Image captured")
	return image, nil
}

// poll reads the data channel until the response id matches id or timeout
// elapses.
func (m *Manager) poll(ctx context.Context, name string, id int32, timeout time.Duration) ([]byte, error) {
	deadline := m.clock.Now().Add(timeout)
	for {
		resp, err := m.port.ReadResponse(ctx, name)
		switch {
		case err == nil && resp.RequestID == id:
			return resp.Image.Data, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			m.logger.WithError(err).WithField("camera", name).Debug("Camera read failed")
		}

		if !m.clock.Now().Before(deadline) {
			m.logger.WithFields(logrus.Fields{"camera": name, "requestId": id, "timeout": timeout}).
				Warn("Timeout while waiting for camera data")
			return nil, &adapter.PortError{
				Code:     adapter.ErrCameraTimeout,
				Channel:  name,
				Original: fmt.Errorf("no response to request %d within %v", id, timeout),
			}
		}
		if err := m.clock.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}
