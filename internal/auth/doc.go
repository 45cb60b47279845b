// Package auth verifies bearer tokens and enforces scopes on the control API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). Claims carry a subject, roles (viewer, operator) and scopes (read,
// control, telemetry). The subject becomes the audit user of the request.
package auth
