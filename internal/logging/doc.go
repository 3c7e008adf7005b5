// Package logging assembles structured slog loggers and formatting helpers used
// across deeplinker components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline and transfer code
// tag log lines with media tokens, stages, job IDs and correlation IDs. A
// bounded StreamHub keeps recent events for the daemon's log endpoint, and
// NewNop provides a silent logger for tests.
package logging
