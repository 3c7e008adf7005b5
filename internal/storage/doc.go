// Package storage keeps artifact and source blobs on local disk and hands out
// scratch workspaces to processing jobs.
//
// Blobs are addressed by opaque storage references relative to the store
// root. Writes go through a temp file, are hashed on the fly, fsynced and then
// renamed into place so a reader never observes a partial blob. Workspaces are
// per-job temp directories whose Release is idempotent and safe to defer on
// every exit path.
package storage
