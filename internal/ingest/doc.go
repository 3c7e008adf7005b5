// Package ingest accepts uploads and turns them into tokens.
//
// The Coordinator validates the source and its options, resolves effective
// derivation parameters from per-request options, persisted settings records
// and the TOML defaults, reserves pipeline capacity for the requested stages,
// persists the descriptor, and hands the stages to the pipeline without
// waiting for them. Deletion cancels in-flight work before removing the record
// and its blobs.
package ingest
