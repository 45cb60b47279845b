// Package telemetry fans controller events out to SSE clients.
//
// Events are numbered per robot and the last N are buffered so a client
// reconnecting with Last-Event-ID resumes where it left off.
package telemetry
