package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/mission"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/motion"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// API error codes for transport and lookup conditions.
var (
	ErrBadRequest    = errors.New("BAD_REQUEST")
	ErrNotFoundError = errors.New("NOT_FOUND")
)

// errorMapping is one row of the error table.
type errorMapping struct {
	err     error
	code    string
	status  int
	message string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{adapter.ErrInvalidRange, "INVALID_RANGE", http.StatusBadRequest, "Parameter value is outside the allowed range"},
	{adapter.ErrBusy, "BUSY", http.StatusServiceUnavailable, "Robot is busy, retry later"},
	{adapter.ErrTelemetryUnavailable, "TELEMETRY_UNAVAILABLE", http.StatusServiceUnavailable, "Robot telemetry is unavailable"},
	{adapter.ErrActuatorWrite, "ACTUATOR_WRITE_FAILURE", http.StatusBadGateway, "Failed to write the actuator command"},
	{adapter.ErrCameraTimeout, "CAMERA_TIMEOUT", http.StatusGatewayTimeout, "No image arrived in time"},
	{motion.ErrPrimitiveTimeout, "PRIMITIVE_TIMEOUT", http.StatusGatewayTimeout, "Motion did not complete in time"},
	{motion.ErrHeadingNotReached, "HEADING_NOT_REACHED", http.StatusGatewayTimeout, "Heading was not reached"},
	{mission.ErrNotFound, "NOT_FOUND", http.StatusNotFound, "Resource not found"},
	{ErrNotFoundError, "NOT_FOUND", http.StatusNotFound, "Resource not found"},
	{ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest, "Malformed or missing required parameter"},
	{context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout, "Request timed out"},
	{context.Canceled, "CANCELED", http.StatusServiceUnavailable, "Request was canceled"},
	{adapter.ErrInternal, "INTERNAL", http.StatusInternalServerError, "Internal server error"},
}

// ToAPIError converts an error to an HTTP status code and error envelope.
func ToAPIError(err error) (int, *Response) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, ErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, ErrorResponse(m.code, m.message, errorDetails(err))
		}
	}

	return http.StatusInternalServerError, ErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

func errorDetails(err error) map[string]interface{} {
	details := map[string]interface{}{"original": err.Error()}
	var portErr *adapter.PortError
	if errors.As(err, &portErr) {
		details["channel"] = portErr.Channel
	}
	return details
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// badRequest wraps a binding error.
func badRequest(err error) *APIError {
	return NewAPIError("BAD_REQUEST", "Malformed JSON or missing field", http.StatusBadRequest, map[string]interface{}{
		"original": err.Error(),
	})
}
