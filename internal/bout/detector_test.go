package bout

import (
	"testing"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/timeutil"
)

var testStart = time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC)

func newTestDetector() (*Detector, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(testStart)
	return New(clock, 15*time.Second), clock
}

// snap builds a snapshot with the given combined clock and lights.
func snap(clockSeconds uint16, lights uint8) favero.Snapshot {
	return favero.Snapshot{
		ClockMinutes: uint8(clockSeconds / 60),
		ClockSeconds: uint8(clockSeconds % 60),
		Lights:       lights,
		MatchNumber:  1,
	}
}

func TestFirstSnapshotNeverTransitions(t *testing.T) {
	d, _ := newTestDetector()

	if ev := d.Observe(snap(180, 0)); ev != nil {
		t.Fatalf("first snapshot produced %+v, want nil", ev)
	}
	if recording, _, _, _ := d.Status(); recording {
		t.Error("detector recording after first snapshot")
	}
}

func TestStartOnClockDecrease(t *testing.T) {
	d, _ := newTestDetector()

	d.Observe(snap(180, 0))
	ev := d.Observe(snap(179, 0))
	if ev == nil || ev.Kind != ActionStarted {
		t.Fatalf("clock 180->179 produced %+v, want ActionStarted", ev)
	}
	if recording, startedAt, _, _ := d.Status(); !recording || !startedAt.Equal(testStart) {
		t.Errorf("recording=%v startedAt=%v, want true @ %v", recording, startedAt, testStart)
	}
}

func TestRepeatedClockDoesNotRetrigger(t *testing.T) {
	d, _ := newTestDetector()

	// 180, 179, 179: the equal pair must not fire a second start
	d.Observe(snap(180, 0))
	first := d.Observe(snap(179, 0))
	second := d.Observe(snap(179, 0))

	if first == nil || first.Kind != ActionStarted {
		t.Fatalf("first decrease produced %+v, want ActionStarted", first)
	}
	if second != nil {
		t.Fatalf("repeated snapshot produced %+v, want nil", second)
	}
}

func TestDuplicateSnapshotIgnoredEntirely(t *testing.T) {
	d, clock := newTestDetector()

	d.Observe(snap(180, 0))
	d.Observe(snap(179, 0)) // start

	// push past the timeout, then replay the identical snapshot: the
	// duplicate must not even reach the timeout branch
	clock.Advance(20 * time.Second)
	if ev := d.Observe(snap(179, 0)); ev != nil {
		t.Fatalf("duplicate snapshot produced %+v, want nil", ev)
	}
	if recording, _, _, _ := d.Status(); !recording {
		t.Error("duplicate snapshot changed detector state")
	}
}

func TestHitEndsRecording(t *testing.T) {
	d, clock := newTestDetector()

	d.Observe(snap(180, 0))
	d.Observe(snap(179, 0)) // start
	clock.Advance(3 * time.Second)

	ev := d.Observe(snap(179, favero.LightLeftHit))
	if ev == nil || ev.Kind != ActionEnded || ev.Reason != HitDetected {
		t.Fatalf("hit produced %+v, want ActionEnded/hit", ev)
	}
	if !ev.StartedAt.Equal(testStart) {
		t.Errorf("StartedAt = %v, want %v", ev.StartedAt, testStart)
	}
	if !ev.EndedAt.Equal(testStart.Add(3 * time.Second)) {
		t.Errorf("EndedAt = %v, want %v", ev.EndedAt, testStart.Add(3*time.Second))
	}
	if recording, _, _, _ := d.Status(); recording {
		t.Error("detector still recording after hit end")
	}
}

func TestHitEndRegardlessOfClock(t *testing.T) {
	d, _ := newTestDetector()

	d.Observe(snap(120, 0))
	d.Observe(snap(119, 0)) // start

	// clock jumps up (reset for next match) with a green light: hit end
	// still wins because the detector was recording when it arrived
	ev := d.Observe(snap(180, favero.LightRightHit))
	if ev == nil || ev.Kind != ActionEnded || ev.Reason != HitDetected {
		t.Fatalf("hit with clock jump produced %+v, want ActionEnded/hit", ev)
	}
}

func TestHitWhileIdleDoesNothing(t *testing.T) {
	d, _ := newTestDetector()

	d.Observe(snap(180, 0))
	if ev := d.Observe(snap(180, favero.LightLeftHit)); ev != nil {
		t.Fatalf("idle hit produced %+v, want nil", ev)
	}
}

func TestClockResetUpwardDoesNotStart(t *testing.T) {
	d, _ := newTestDetector()

	d.Observe(snap(10, 0))
	if ev := d.Observe(snap(180, 0)); ev != nil {
		t.Fatalf("clock jump up produced %+v, want nil", ev)
	}
}

func TestTimeoutEndsRecording(t *testing.T) {
	d, clock := newTestDetector()

	d.Observe(snap(180, 0))
	d.Observe(snap(179, 0)) // start at testStart

	// distinct snapshot, same clock, 10s in: under the timeout, no event
	clock.Advance(10 * time.Second)
	if ev := d.Observe(snap(179, favero.LightLeftOffTarget)); ev != nil {
		t.Fatalf("snapshot at T+10s produced %+v, want nil", ev)
	}

	// distinct snapshot, same clock, 16s in: timeout fires
	clock.Advance(6 * time.Second)
	ev := d.Observe(snap(179, favero.LightRightOffTarget))
	if ev == nil || ev.Kind != ActionEnded || ev.Reason != Timeout {
		t.Fatalf("snapshot at T+16s produced %+v, want ActionEnded/timeout", ev)
	}
	if !ev.EndedAt.Equal(testStart.Add(16 * time.Second)) {
		t.Errorf("EndedAt = %v, want %v", ev.EndedAt, testStart.Add(16*time.Second))
	}
	if recording, _, _, _ := d.Status(); recording {
		t.Error("detector still recording after timeout")
	}
}

func TestTimeoutRequiresFrozenClock(t *testing.T) {
	d, clock := newTestDetector()

	d.Observe(snap(180, 0))
	d.Observe(snap(179, 0)) // start

	// clock still moving after the timeout window: no timeout end
	clock.Advance(20 * time.Second)
	if ev := d.Observe(snap(159, 0)); ev != nil {
		t.Fatalf("moving clock produced %+v, want nil", ev)
	}
	if recording, _, _, _ := d.Status(); !recording {
		t.Error("recording should continue while the clock runs")
	}
}

func TestActionAfterAction(t *testing.T) {
	d, clock := newTestDetector()

	d.Observe(snap(180, 0))
	if ev := d.Observe(snap(179, 0)); ev == nil || ev.Kind != ActionStarted {
		t.Fatal("first action did not start")
	}
	clock.Advance(2 * time.Second)
	if ev := d.Observe(snap(178, favero.LightLeftHit)); ev == nil || ev.Reason != HitDetected {
		t.Fatal("first action did not end on hit")
	}

	// referee resumes: clock decreases again from idle
	clock.Advance(5 * time.Second)
	ev := d.Observe(snap(177, 0))
	if ev == nil || ev.Kind != ActionStarted {
		t.Fatalf("second action produced %+v, want ActionStarted", ev)
	}
	if !ev.StartedAt.Equal(testStart.Add(7 * time.Second)) {
		t.Errorf("second StartedAt = %v, want %v", ev.StartedAt, testStart.Add(7*time.Second))
	}
}

func TestForceStartAndForceEnd(t *testing.T) {
	d, clock := newTestDetector()

	if !d.ForceStart() {
		t.Fatal("ForceStart reported no change on idle detector")
	}
	if d.ForceStart() {
		t.Error("ForceStart while recording should be a no-op")
	}

	clock.Advance(4 * time.Second)
	ev := d.ForceEnd()
	if ev == nil || ev.Kind != ActionEnded || ev.Reason != Manual {
		t.Fatalf("ForceEnd produced %+v, want ActionEnded/manual", ev)
	}
	if !ev.StartedAt.Equal(testStart) || !ev.EndedAt.Equal(testStart.Add(4*time.Second)) {
		t.Errorf("window = [%v, %v], want [%v, %v]", ev.StartedAt, ev.EndedAt, testStart, testStart.Add(4*time.Second))
	}
	if ev.Snapshot != (favero.Snapshot{}) {
		t.Errorf("placeholder snapshot = %+v, want zero", ev.Snapshot)
	}

	if d.ForceEnd() != nil {
		t.Error("ForceEnd while idle should return nil")
	}
}

func TestForceEndCarriesLastSnapshot(t *testing.T) {
	d, _ := newTestDetector()

	seen := snap(150, 0)
	d.Observe(seen)
	d.ForceStart()

	ev := d.ForceEnd()
	if ev == nil || ev.Snapshot != seen {
		t.Fatalf("ForceEnd snapshot = %+v, want %+v", ev, seen)
	}
}

func TestDefaultsApplied(t *testing.T) {
	d := New(nil, 0)
	if d.clock == nil {
		t.Error("nil clock not defaulted")
	}
	if d.timeout != DefaultActionTimeout {
		t.Errorf("timeout = %v, want %v", d.timeout, DefaultActionTimeout)
	}
}
