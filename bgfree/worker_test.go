package bgfree

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueRunsJobAndDrainsPending(t *testing.T) {
	w := New(2, nil)
	defer w.Stop()

	var freed atomic.Uint64
	done := make(chan struct{})
	ok := w.Enqueue(func() uint64 {
		freed.Store(42)
		close(done)
		return 42
	})
	if !ok {
		t.Fatalf("Enqueue() = false, want true")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	deadline := time.Now().Add(time.Second)
	for w.PendingJobs() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := w.PendingJobs(); got != 0 {
		t.Errorf("PendingJobs() = %d, want 0 after job completion", got)
	}
	if freed.Load() != 42 {
		t.Errorf("job side effect did not run")
	}
}

func TestPendingJobsReflectsQueueDepth(t *testing.T) {
	w := New(1, nil)
	defer w.Stop()

	release := make(chan struct{})
	w.Enqueue(func() uint64 {
		<-release
		return 1
	})
	w.Enqueue(func() uint64 { return 1 })

	if got := w.PendingJobs(); got != 2 {
		t.Errorf("PendingJobs() = %d, want 2 while the first job blocks", got)
	}
	close(release)
}

func TestEnqueueAfterStopReturnsFalse(t *testing.T) {
	w := New(1, nil)
	w.Stop()
	if w.Enqueue(func() uint64 { return 0 }) {
		t.Errorf("Enqueue() after Stop() should return false")
	}
}
