// Package pipeline runs preview, collage and watermark derivations on a
// bounded worker pool.
//
// Callers reserve queue capacity before persisting anything, then submit one
// job per stage. A job is a small state machine (pending, running, then done,
// failed or cancelled) and at most one job per (token, stage) is in flight;
// a second submission returns the existing handle. Each running job owns a
// scratch workspace that is removed before the job reaches a terminal state.
//
// Stages for the same token share one materialized copy of the source through
// a reference-counted cache, so a remote source is downloaded once no matter
// how many stages need it. The watermark stage waits for the base artifact it
// targets and falls back to the raw source when that base failed or had
// nothing to do.
//
// Every outcome is folded into a registry artifact. A failed stage records a
// failed artifact and never affects its siblings.
package pipeline
