// Package notifications pushes link and pipeline events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// ingest and the pipeline call the Service interface unconditionally. Each
// event type can be switched off in the [notifications] config section.
package notifications
