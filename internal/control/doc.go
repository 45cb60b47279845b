// Package control implements the closed-loop single-axis controllers of the
// forklift.
//
// Each controller turns one goal into a Primitive: a tick function that
// reads telemetry, computes an error, and writes one actuator axis through
// a read-modify-write of the command word. A Driver calls Tick at a fixed
// period until the primitive converges, fails, or the context ends. On
// convergence the primitive itself writes a halting command.
package control
