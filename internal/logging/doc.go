// Package logging assembles structured slog loggers and formatting helpers used
// across chromite commands, the Build API, and cbuildbot.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with build IDs, stages, boards, and correlation IDs. The
// package also provides a no-op logger for tests and a tee for per-build log
// files.
package logging
