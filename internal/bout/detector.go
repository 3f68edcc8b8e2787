// Package bout infers action boundaries from successive scoring-machine
// snapshots. The apparatus has no explicit start/stop channel: the match
// clock counting down is the only reliable start signal, a lit valid-hit
// light the only reliable end signal, and a frozen clock past a timeout
// covers halts without a hit (cards, conferences, injuries).
package bout

import (
	"sync"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// DefaultActionTimeout stops a recording whose clock has frozen with no
// hit after this long.
const DefaultActionTimeout = 15 * time.Second

// EventKind distinguishes the two lifecycle events.
type EventKind int

const (
	ActionStarted EventKind = iota
	ActionEnded
)

func (k EventKind) String() string {
	if k == ActionStarted {
		return "started"
	}
	return "ended"
}

// EndReason says why an action ended. The values are stored as-is in the
// clips and actions tables.
type EndReason string

const (
	HitDetected EndReason = "hit"
	Timeout     EndReason = "timeout"
	Manual      EndReason = "manual"
)

// Event is emitted for at most one transition per distinct snapshot.
// StartedAt is set on both kinds; EndedAt and Reason only on ActionEnded.
type Event struct {
	Kind      EventKind
	Reason    EndReason
	Snapshot  favero.Snapshot
	StartedAt time.Time
	EndedAt   time.Time
}

// Detector is the action state machine. All state is owned here; the
// telemetry loop calls Observe while the HTTP side may call ForceStart,
// ForceEnd and Status, so a mutex guards the fields.
type Detector struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	timeout time.Duration

	lastClock    uint16
	hasLastClock bool
	recording    bool
	startedAt    time.Time
	lastSnapshot favero.Snapshot
	hasSnapshot  bool
}

// New creates a detector. A nil clock means real time; a non-positive
// timeout means DefaultActionTimeout.
func New(clock timeutil.Clock, timeout time.Duration) *Detector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Detector{clock: clock, timeout: timeout}
}

// Observe feeds one accepted snapshot through the state machine and
// returns the resulting lifecycle event, or nil. A snapshot identical to
// the previous one is ignored entirely.
//
// Transitions are evaluated against the state as of the snapshot's
// arrival, in priority order: start (clock decreased, idle), hit end
// (valid-hit light, recording), timeout end (clock unchanged, recording,
// timeout exceeded). At most one event fires per snapshot. The combined
// clock and the snapshot are stored afterwards regardless of outcome.
func (d *Detector) Observe(s favero.Snapshot) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasSnapshot && s == d.lastSnapshot {
		return nil
	}

	c := s.Clock()
	var ev *Event

	switch {
	case d.hasLastClock && c < d.lastClock && !d.recording:
		// Clock counting down: action is live. A reset jump upward
		// (next match) fails c < lastClock and never lands here.
		d.recording = true
		d.startedAt = d.clock.Now()
		ev = &Event{Kind: ActionStarted, Snapshot: s, StartedAt: d.startedAt}

	case s.HitDetected() && d.recording:
		ev = &Event{
			Kind:      ActionEnded,
			Reason:    HitDetected,
			Snapshot:  s,
			StartedAt: d.startedAt,
			EndedAt:   d.clock.Now(),
		}
		d.recording = false

	case d.hasLastClock && c == d.lastClock && d.recording && d.clock.Since(d.startedAt) > d.timeout:
		ev = &Event{
			Kind:      ActionEnded,
			Reason:    Timeout,
			Snapshot:  s,
			StartedAt: d.startedAt,
			EndedAt:   d.clock.Now(),
		}
		d.recording = false
	}

	d.lastClock = c
	d.hasLastClock = true
	d.lastSnapshot = s
	d.hasSnapshot = true
	return ev
}

// ForceStart begins a recording from the operator surface. It reports
// whether the state changed; starting while already recording is a no-op.
func (d *Detector) ForceStart() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.recording {
		return false
	}
	d.recording = true
	d.startedAt = d.clock.Now()
	return true
}

// ForceEnd stops a recording from the operator surface and returns the
// matching ActionEnded event with reason Manual. The snapshot carried is
// the last one observed, or a zero placeholder when telemetry has never
// produced one. Returns nil when idle.
func (d *Detector) ForceEnd() *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.recording {
		return nil
	}
	d.recording = false
	return &Event{
		Kind:      ActionEnded,
		Reason:    Manual,
		Snapshot:  d.lastSnapshot,
		StartedAt: d.startedAt,
		EndedAt:   d.clock.Now(),
	}
}

// Status reports the current machine state for the API: whether an action
// is being bracketed, when it started, and the last snapshot seen.
func (d *Detector) Status() (recording bool, startedAt time.Time, last favero.Snapshot, seen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording, d.startedAt, d.lastSnapshot, d.hasSnapshot
}
