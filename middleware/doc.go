// Package middleware exposes HTTP middleware adapters enforcing access-token
// authorization on top of passauth.Engine validation.
//
// # Guards
//
//   - [RequireAuth] — validates the bearer token and injects the result.
//   - [RequireRole] — RequireAuth plus an exact role match.
//
// Each guard reads the Authorization header, calls Engine.ValidateAccess, and
// injects the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// Engine.ValidateAccess.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from the Engine.
package middleware
