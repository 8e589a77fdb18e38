// Package timing provides a monotonic per-stage timer for query serving.
// Stage latencies are reported on every query response and in logs.
package timing

import (
	"sync"
	"time"
)

// StageTimer records wall-clock durations per named stage. It is safe for
// concurrent use so parallel stages can report into the same timer.
type StageTimer struct {
	mu     sync.Mutex
	stages map[string]int64
}

// NewStageTimer creates an empty stage timer.
func NewStageTimer() *StageTimer {
	return &StageTimer{stages: make(map[string]int64)}
}

// Start begins timing a stage and returns the function that stops it.
// Calling the returned function more than once keeps the first measurement.
func (t *StageTimer) Start(stage string) func() {
	begin := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Record(stage, time.Since(begin))
		})
	}
}

// Record stores a duration for a stage. Repeated records for the same stage
// accumulate, which is what fan-out stages want.
func (t *StageTimer) Record(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages[stage] += d.Milliseconds()
}

// Snapshot returns a copy of all recorded stage latencies in milliseconds.
func (t *StageTimer) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.stages))
	for k, v := range t.stages {
		out[k] = v
	}
	return out
}
