// Package logs reads daemon log events for the CLI.
//
// Stream prefers the daemon's in-memory event buffer over HTTP and falls back
// to tailing the JSON log file under the configured log directory when the
// daemon is unreachable. Tail keeps memory bounded by holding only the last
// N lines and resumes from byte offsets in follow mode.
package logs
