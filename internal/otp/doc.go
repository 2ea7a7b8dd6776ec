// Package otp provides internal primitives for one-time code generation,
// recipient-bound HMAC digests, and constant-time digest comparison.
//
// # What this package must NOT do
//
//   - Persist or look up challenges (those live in internal/stores).
//   - Be imported outside the passauth module.
package otp
