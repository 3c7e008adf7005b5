// Package delivery resolves deep-link tokens to the artifact a viewer
// receives.
//
// Resolution walks the configured preference order and picks the first stage
// whose artifact finished successfully, falling back to the raw source.
// Descriptors are immutable once created, so they are cached in an expirable
// LRU and dropped explicitly when a token is deleted. Artifact rows are read
// on every resolve so new derivations become visible immediately.
package delivery
