package logging

import (
	"math"
	"sync"
)

// ProgressSampler thins out progress updates from concurrent workers. It
// passes the first update, each crossing of a step boundary, and completion
// exactly once. Updates that arrive out of order never move it backwards.
type ProgressSampler struct {
	mu       sync.Mutex
	step     float64
	bucket   int
	finished bool
}

// NewProgressSampler samples every step percent; non-positive steps use 5.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// Sample reports whether percent deserves a log line. Negative values mean
// the total is unknown and always pass.
func (s *ProgressSampler) Sample(percent float64) bool {
	if s == nil || percent < 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	if percent >= 100 {
		s.finished = true
		return true
	}
	bucket := int(math.Floor(percent / s.step))
	if bucket <= s.bucket {
		return false
	}
	s.bucket = bucket
	return true
}
