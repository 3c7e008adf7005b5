// Package daemon coordinates the long-running deeplinker process.
//
// It wires configuration, the registry, blob storage, the processing
// pipeline, the ingestion coordinator and the delivery gate into a single
// lifecycle with flock-based locking to prevent multiple instances. On start
// it reclaims workspaces left behind by a crash and prunes old logs, then
// serves the HTTP API: media management and settings under /api, link
// resolution under /l, and Prometheus metrics under /metrics.
//
// Keep orchestration logic here: derivation and resolution rules live in
// their respective packages while the daemon focuses on startup, shutdown and
// the transport surface.
package daemon
