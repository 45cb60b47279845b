// Package api exposes the forklift control core over HTTP.
//
// All endpoints live under /api/v1 and answer with one JSON envelope:
// {result, data, code, message, details, correlationId}. Errors from the
// motion, mission, camera and gamepad layers are mapped to HTTP status
// codes in one place, ToAPIError.
package api
