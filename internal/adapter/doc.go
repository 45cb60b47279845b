// Package adapter defines the ports the forklift control core talks through.
//
// A Robot combines the telemetry port (pose, lift height) and the actuator
// port (the gamepad-shaped command word). A CameraPort exposes the request
// and response channels of the monitor cameras. Implementations live in
// sub-packages: fake for tests, pdubus for the simulator PDU bus.
//
// Every port failure is normalized to one of the sentinel codes in this
// package so callers can branch with errors.Is.
package adapter
