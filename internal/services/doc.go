// Package services defines shared utilities consumed by the Build API
// controllers, the build services, and the cbuildbot stages.
//
// Key responsibilities:
//   - Context helpers that stamp build IDs, stage names, boards, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into consistent outcomes (invalid input vs failed build step).
//   - The Runner abstraction that makes external command execution
//     (emerge, cgpt, cros_sdk, ...) testable.
//
// Use these helpers when wiring new endpoints or stages so operational
// behaviour (error handling, observability, timeouts) stays uniform.
package services
