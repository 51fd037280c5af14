package progress

import (
	"sync"
	"testing"
)

func TestTrackerConcurrentIncrements(t *testing.T) {
	const n = 500

	tracker := NewTracker()
	tracker.RegisterExpected("job-1", "frame", n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment("job-1", "frame")
		}()
	}
	wg.Wait()

	expected, done := tracker.Get("job-1", "frame")
	if done != n {
		t.Fatalf("expected %d increments counted, got %d", n, done)
	}
	if expected != n {
		t.Fatalf("expected registered total %d, got %d", n, expected)
	}
}

func TestTrackerKeysIsolated(t *testing.T) {
	tracker := NewTracker()

	tracker.Increment("job-1", "frame")
	tracker.Increment("job-1", "image")
	tracker.Increment("job-2", "frame")
	tracker.Increment("job-2", "frame")

	if _, done := tracker.Get("job-1", "frame"); done != 1 {
		t.Errorf("job-1/frame: expected 1, got %d", done)
	}
	if _, done := tracker.Get("job-1", "image"); done != 1 {
		t.Errorf("job-1/image: expected 1, got %d", done)
	}
	if _, done := tracker.Get("job-2", "frame"); done != 2 {
		t.Errorf("job-2/frame: expected 2, got %d", done)
	}
}

func TestTrackerUnknownKeyReportsUnknownExpected(t *testing.T) {
	tracker := NewTracker()

	if expected, done := tracker.Get("job-1", "frame"); expected != ExpectedUnknown || done != 0 {
		t.Fatalf("fresh key: expected expected=%d done=0, got expected=%d done=%d", ExpectedUnknown, expected, done)
	}

	// Инкремент до регистрации не делает ожидание известным.
	if done, expected := tracker.Increment("job-1", "frame"); done != 1 || expected != ExpectedUnknown {
		t.Fatalf("increment before registration: got done=%d expected=%d", done, expected)
	}
}

func TestTrackerRegisterExpectedLastWriteWins(t *testing.T) {
	tracker := NewTracker()

	tracker.RegisterExpected("job-1", "frame", 10)
	tracker.RegisterExpected("job-1", "frame", 25)

	if expected, _ := tracker.Get("job-1", "frame"); expected != 25 {
		t.Fatalf("expected refined total 25, got %d", expected)
	}
}

func TestTrackerDiscardJob(t *testing.T) {
	tracker := NewTracker()

	tracker.RegisterExpected("job-1", "frame", 10)
	tracker.Increment("job-1", "frame")
	tracker.Increment("job-2", "frame")

	tracker.DiscardJob("job-1")

	if expected, done := tracker.Get("job-1", "frame"); expected != ExpectedUnknown || done != 0 {
		t.Errorf("job-1: expected fresh state, got expected=%d done=%d", expected, done)
	}
	if _, done := tracker.Get("job-2", "frame"); done != 1 {
		t.Errorf("job-2 must be untouched, got done=%d", done)
	}
}
