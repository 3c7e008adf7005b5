// Command deeplinker runs the deep-link daemon and manages it over its HTTP
// API.
//
// `deeplinker serve` runs the daemon in the foreground; `start`, `stop` and
// `restart` manage a detached instance. The remaining commands (ingest,
// list, show, delete, jobs, settings, logs, status) are thin clients of the
// daemon API.
package main
