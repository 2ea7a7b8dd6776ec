// Package rate provides the sliding-window admission limiter shared by every
// credential-issuing flow.
//
// # Window semantics
//
// Sliding window over ordered hit timestamps: each check prunes hits older
// than the window, refuses without recording when the remainder has reached
// the budget, and records the hit otherwise. Bursts are allowed up to the
// budget within any rolling window, then fully blocked until the oldest hit
// ages out.
//
// # What this package must NOT do
//
//   - Implement per-endpoint policies (callers choose identity keys and budgets).
//   - Be imported outside the passauth module.
package rate
