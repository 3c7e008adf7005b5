// Package ffprobe runs ffprobe and decodes the parts of its JSON report the
// pipeline needs: stream kinds, picture size and duration.
package ffprobe
