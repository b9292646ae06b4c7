package cache

import (
	"math"
	"sync"
)

// Stats is a point-in-time view of hit/miss counters
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"totalRequests"`
	HitRate       float64 `json:"hitRate"` // percent, 0 when no requests
}

// HitRatePercent returns HitRate rounded to two decimals
func (s Stats) HitRatePercent() float64 {
	return math.Round(s.HitRate*100) / 100
}

// StatsTracker counts cache hits and misses. Both counters share one lock so
// snapshots and resets never see them out of step.
type StatsTracker struct {
	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewStatsTracker creates a zeroed tracker
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// RecordHit counts a hit
func (t *StatsTracker) RecordHit() {
	t.mu.Lock()
	t.hits++
	t.mu.Unlock()
}

// RecordMiss counts a miss
func (t *StatsTracker) RecordMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
}

// Snapshot returns the current counters
func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	hits, misses := t.hits, t.misses
	t.mu.Unlock()

	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		TotalRequests: total,
		HitRate:       rate,
	}
}

// Reset zeroes both counters
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	t.hits, t.misses = 0, 0
	t.mu.Unlock()
}
