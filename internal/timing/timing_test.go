package timing

import (
	"sync"
	"testing"
	"time"
)

func TestStartStopIsIdempotent(t *testing.T) {
	timer := NewStageTimer()

	stop := timer.Start("retrieval")
	time.Sleep(5 * time.Millisecond)
	stop()

	first := timer.Snapshot()["retrieval"]
	if first < 5 {
		t.Fatalf("expected at least 5ms recorded, got %d", first)
	}

	time.Sleep(5 * time.Millisecond)
	stop()

	if got := timer.Snapshot()["retrieval"]; got != first {
		t.Errorf("second stop changed measurement: %d != %d", got, first)
	}
}

func TestRecordAccumulates(t *testing.T) {
	timer := NewStageTimer()
	timer.Record("map", 5*time.Millisecond)
	timer.Record("map", 7*time.Millisecond)

	if got := timer.Snapshot()["map"]; got != 12 {
		t.Errorf("expected accumulated 12ms, got %d", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	timer := NewStageTimer()
	timer.Record("synthesis", 3*time.Millisecond)

	snap := timer.Snapshot()
	snap["synthesis"] = 999

	if got := timer.Snapshot()["synthesis"]; got != 3 {
		t.Errorf("snapshot mutation leaked into timer: got %d", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	timer := NewStageTimer()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.Record("hops", time.Millisecond)
		}()
	}
	wg.Wait()

	if got := timer.Snapshot()["hops"]; got != 10 {
		t.Errorf("expected 10ms from 10 concurrent records, got %d", got)
	}
}
