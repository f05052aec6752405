package common

import (
	"sync"
)

// Stats accumulates named, monotonically increasing counters. It is meant for
// lightweight, always-on diagnostics (hit/miss counts) rather than full
// metrics export.
type Stats struct {
	counts map[string]int
	mu     sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		counts: map[string]int{},
	}
}

// Incr bumps the counter stored under key by one and returns its new value.
func (s *Stats) Incr(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key]
}

// Count returns the current counter value for key.
func (s *Stats) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}
