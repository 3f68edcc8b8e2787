package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	if clock.Now().Before(before) {
		t.Error("Now went backwards")
	}
	if clock.Since(before) < 0 {
		t.Error("Since returned a negative duration")
	}

	start := time.Now()
	clock.Sleep(time.Millisecond)
	if time.Since(start) < time.Millisecond {
		t.Error("Sleep returned early")
	}
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	base := time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC)
	clock := NewMockClock(base)

	if !clock.Now().Equal(base) {
		t.Errorf("Now = %v, want %v", clock.Now(), base)
	}

	clock.Advance(90 * time.Second)
	if got := clock.Now(); !got.Equal(base.Add(90 * time.Second)) {
		t.Errorf("Now after Advance = %v", got)
	}
	if got := clock.Since(base); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}

func TestMockClock_RecordsSleeps(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		clock.Sleep(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep blocked; the mock must return immediately")
	}

	clock.Sleep(250 * time.Millisecond)
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 250*time.Millisecond {
		t.Errorf("Sleeps = %v", sleeps)
	}

	sleeps[0] = 0
	if clock.Sleeps()[0] != time.Second {
		t.Error("Sleeps should return a copy")
	}
}
