// Package passauth provides a passwordless authentication engine with email
// one-time codes, WebAuthn passkeys, EdDSA-signed access tokens, and rotating
// opaque refresh tokens grouped into revocable families.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// passauth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (TokenPair, PasskeyRecord, MetricsSnapshot, etc.). All internal coordination — challenge
// storage, rate limiting, token rotation scripts, audit dispatch — lives under internal/
// and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Deliver email itself (delegated to the injected [Mailer]) or persist passkey rows
//     (delegated to the injected [PasskeyProvider]).
//
// # Performance contract
//
// ValidateAccess is the hot path. It performs one signature check plus one revocation
// index lookup and must not write. Challenge issuance is allowed one email send and one
// store write; refresh rotation is one store script per call.
package passauth
