package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Normalized port errors.
var (
	// ErrTelemetryUnavailable aborts the running primitive.
	ErrTelemetryUnavailable = errors.New("TELEMETRY_UNAVAILABLE")
	// ErrActuatorWrite is fatal for the running primitive.
	ErrActuatorWrite = errors.New("ACTUATOR_WRITE_FAILURE")
	// ErrCameraTimeout means no matching image arrived in time. Recoverable.
	ErrCameraTimeout = errors.New("CAMERA_TIMEOUT")
	ErrInvalidRange  = errors.New("INVALID_RANGE")
	ErrBusy          = errors.New("BUSY")
	ErrInternal      = errors.New("INTERNAL")
)

// PortError wraps a transport error with its normalized code and the
// channel it occurred on.
type PortError struct {
	Code     error  // Normalized code
	Channel  string // Logical channel, e.g. "pos"
	Original error  // Underlying cause
}

func (e *PortError) Error() string {
	if e.Original == nil {
		return fmt.Sprintf("%v (channel: %s)", e.Code, e.Channel)
	}
	return fmt.Sprintf("%v (channel: %s): %v", e.Code, e.Channel, e.Original)
}

// Unwrap exposes both the code and the cause to errors.Is and errors.As.
func (e *PortError) Unwrap() []error {
	if e.Original == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Original}
}

// NormalizePortError classifies err from channel under code. Context
// cancellation and deadline errors pass through untouched, as do errors
// that already carry a normalized code.
func NormalizePortError(err error, channel string, code error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if CodeOf(err) != nil {
		return err
	}
	return &PortError{Code: code, Channel: channel, Original: err}
}

var codes = []error{
	ErrTelemetryUnavailable,
	ErrActuatorWrite,
	ErrCameraTimeout,
	ErrInvalidRange,
	ErrBusy,
	ErrInternal,
}

// CodeOf returns the normalized code carried by err, or nil.
func CodeOf(err error) error {
	for _, code := range codes {
		if errors.Is(err, code) {
			return code
		}
	}
	return nil
}
