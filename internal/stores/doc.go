// Package stores provides the Redis-backed persistence adapters for email
// challenges, WebAuthn ceremony sessions, and refresh-token families.
//
// # Atomicity
//
// Every check-then-act mutation (consume a challenge, rotate a refresh
// token) runs as a single Lua script so concurrent attempts on the same
// record cannot interleave. Go-side constant-time comparisons repeat the
// secret checks as defense-in-depth, since Lua string comparison is not
// constant-time.
//
// # What this package must NOT do
//
//   - Generate codes, tokens, or hashes (callers pass digests in).
//   - Decide policy (attempt budgets and TTLs are parameters).
//   - Be imported outside the passauth module.
package stores
