package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the status or the percentage bucket changes.
type ProgressSampler struct {
	bucketSize float64
	lastStatus string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the status changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. Percent can be
// negative to indicate "unknown"; status is trimmed before comparison and an
// empty status never triggers on its own.
func (s *ProgressSampler) ShouldLog(percent float64, status string) bool {
	if s == nil {
		return true
	}
	status = strings.TrimSpace(status)
	emit := false
	if status != "" && status != s.lastStatus {
		s.lastStatus = status
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a task is restarted).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStatus = ""
	s.lastBucket = -1
}
