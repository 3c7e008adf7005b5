// Package transfer downloads remote media sources over parallel HTTP range
// requests.
//
// A download session splits the expected size into fixed-size chunks, fetches
// up to a bounded number of them concurrently into per-chunk files inside a
// scratch workspace, verifies each chunk's byte count, and reassembles them
// in offset order. Chunks retry with exponential backoff. Sources whose size
// cannot be learned, or servers that ignore range requests, fall back to a
// single streamed GET. The session directory is removed on every exit path.
package transfer
