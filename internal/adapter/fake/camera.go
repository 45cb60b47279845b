package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/clock"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// CameraMode selects how a fake camera answers requests.
type CameraMode int

const (
	// CameraRespond answers each request with its own id.
	CameraRespond CameraMode = iota
	// CameraSilent never answers.
	CameraSilent
	// CameraStale keeps answering with the id of the previous request.
	CameraStale
)

type cameraState struct {
	image    []byte
	mode     CameraMode
	delay    time.Duration
	response pdu.CameraResponse
	pending  *pdu.CameraRequest
	readyAt  time.Time
	requests []pdu.CameraRequest
}

// Camera implements adapter.CameraPort for any number of named cameras.
type Camera struct {
	mu      sync.Mutex
	clock   clock.Clock
	cameras map[string]*cameraState
}

var _ adapter.CameraPort = (*Camera)(nil)

// NewCamera creates a fake camera bank.
func NewCamera(clk clock.Clock) *Camera {
	return &Camera{
		clock:   clk,
		cameras: make(map[string]*cameraState),
	}
}

// AddCamera registers a camera that answers with image after delay.
func (c *Camera) AddCamera(name string, image []byte, mode CameraMode, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameras[name] = &cameraState{image: image, mode: mode, delay: delay}
}

// WriteRequest records the request and schedules the answer.
func (c *Camera) WriteRequest(ctx context.Context, camera string, req pdu.CameraRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[camera]
	if !ok {
		return &adapter.PortError{Code: adapter.ErrInvalidRange, Channel: camera, Original: fmt.Errorf("unknown camera %q", camera)}
	}
	state.requests = append(state.requests, req)

	if req.Header.Request == 1 {
		r := req
		state.pending = &r
		state.readyAt = c.clock.Now().Add(state.delay)
	}
	return nil
}

// ReadResponse returns the data channel content, answering a pending
// request once its delay has elapsed.
func (c *Camera) ReadResponse(ctx context.Context, camera string) (pdu.CameraResponse, error) {
	select {
	case <-ctx.Done():
		return pdu.CameraResponse{}, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[camera]
	if !ok {
		return pdu.CameraResponse{}, &adapter.PortError{Code: adapter.ErrInvalidRange, Channel: camera, Original: fmt.Errorf("unknown camera %q", camera)}
	}

	if state.pending != nil && !c.clock.Now().Before(state.readyAt) {
		switch state.mode {
		case CameraRespond:
			state.response = pdu.CameraResponse{RequestID: state.pending.RequestID, Image: pdu.CameraImage{Data: state.image}}
		case CameraStale:
			state.response = pdu.CameraResponse{RequestID: state.pending.RequestID - 1, Image: pdu.CameraImage{Data: state.image}}
		}
		state.pending = nil
	}
	return state.response, nil
}

// Requests returns every request written to camera.
func (c *Camera) Requests(camera string) []pdu.CameraRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[camera]
	if !ok {
		return nil
	}
	out := make([]pdu.CameraRequest, len(state.requests))
	copy(out, state.requests)
	return out
}
