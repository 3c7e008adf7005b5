// Package api defines wire-format types and converters for the HTTP API.
// It translates registry, pipeline and delivery models into transport-friendly
// DTOs that the CLI and other consumers can render without coupling to
// internal types.
//
// # Key Types
//
// MediaItem: a token with its descriptor fields, public link and artifacts.
//
// Job: pipeline job snapshot for diagnostics.
//
// DaemonStatus: running state, pipeline occupancy, registry counts and
// external tool availability.
//
// LogStreamResponse: structured log payloads for live tailing.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Artifact metadata is passed
// through as json.RawMessage to avoid double-encoding.
package api
