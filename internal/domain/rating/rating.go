// Package rating maintains running rating averages for rated entities.
package rating

import "sync"

// Snapshot is a consistent copy of an aggregator's state.
type Snapshot struct {
	Total   float64 `json:"total"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Aggregator keeps a rating total and count. The zero value is ready to use
// and safe for concurrent use.
type Aggregator struct {
	mu    sync.RWMutex
	total float64
	count int
}

// Record adds v and returns the state right after it was applied.
func (a *Aggregator) Record(v float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += v
	a.count++
	return a.snapshotLocked()
}

// Average returns total/count, or 0 when nothing was recorded.
func (a *Aggregator) Average() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked().Average
}

// Total returns the sum of recorded ratings.
func (a *Aggregator) Total() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

// Count returns the number of recorded ratings.
func (a *Aggregator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

// Snapshot returns total, count and average read together.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	s := Snapshot{Total: a.total, Count: a.count}
	if a.count > 0 {
		s.Average = a.total / float64(a.count)
	}
	return s
}
