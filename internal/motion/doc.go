// Package motion is the single owner of a robot's actuator command.
//
// Facade serializes motion primitives, stops the robot after every one of
// them whatever the outcome, and reports each primitive to the audit log
// and the telemetry hub.
package motion
