package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive preload progress logs. It emits when
// an instance crosses a bucket boundary (default 10%) and always for the first
// and final report.
type ProgressSampler struct {
	bucketSize float64

	mu      sync.Mutex
	buckets map[string]int
}

// NewProgressSampler constructs a sampler with the given bucket size in percent.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, buckets: make(map[string]int)}
}

// ShouldLog reports whether a progress value (0..1) for key should be logged.
func (s *ProgressSampler) ShouldLog(key string, progress float64) bool {
	if s == nil {
		return true
	}
	key = strings.TrimSpace(key)
	percent := progress * 100
	if percent < 0 {
		percent = 0
	}
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100/s.bucketSize) + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.buckets[key]
	if seen && bucket <= last {
		return false
	}
	s.buckets[key] = bucket
	return true
}

// Forget drops sampler state for key so a retried preload logs from scratch.
func (s *ProgressSampler) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.buckets, strings.TrimSpace(key))
	s.mu.Unlock()
}
