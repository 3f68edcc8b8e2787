// Package clip turns completed actions into bounded video clips by
// slicing a padded window out of the frame buffer and handing it to an
// encoder.
package clip

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/piste-data/touche.report/internal/bout"
	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/framebuf"
	"github.com/piste-data/touche.report/internal/monitoring"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// Defaults for the extraction policy. All three are overridable through
// Config (tuning file in the shipped binary).
const (
	DefaultPreRoll   = time.Second
	DefaultPostRoll  = time.Second
	DefaultMinFrames = 10
)

var (
	// ErrBusy rejects a request while another extraction is in flight.
	// The window will have aged out of the buffer by the time the worker
	// frees up, so the request is dropped rather than queued.
	ErrBusy = errors.New("clip: extraction already in flight")

	// ErrClosed rejects requests after Close.
	ErrClosed = errors.New("clip: extractor closed")

	// ErrInsufficientFrames aborts an extraction whose window held too
	// little video to be worth keeping.
	ErrInsufficientFrames = errors.New("clip: insufficient frames in window")
)

// Encoder writes an ordered frame sequence as a playable artifact named
// by outputID. Implementations live in internal/encode.
type Encoder interface {
	WriteClip(frames []framebuf.Frame, outputID string) error
}

// Request describes one extraction: the padded time window, why the
// action ended, and the snapshot that ended it (a placeholder for manual
// stops before any telemetry arrived).
type Request struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Reason      bout.EndReason
	Snapshot    favero.Snapshot
}

// Result reports one finished extraction attempt. Err is nil on success,
// ErrInsufficientFrames when aborted, or the encoder's error.
type Result struct {
	Request    Request
	OutputID   string
	FrameCount int
	Err        error
}

// Config wires an Extractor. Buffer and Encoder are required.
type Config struct {
	Buffer    *framebuf.Buffer
	Encoder   Encoder
	Clock     timeutil.Clock
	PreRoll   time.Duration
	PostRoll  time.Duration
	MinFrames int
	// OnResult, when set, is invoked on the worker goroutine after every
	// attempt, success or not. The service uses it to persist clip rows
	// and update counters.
	OnResult func(Result)
}

// Extractor owns the single extraction worker. A request is accepted only
// while no other is pending or being written; everything else is rejected
// with ErrBusy.
type Extractor struct {
	buffer    *framebuf.Buffer
	encoder   Encoder
	clock     timeutil.Clock
	preRoll   time.Duration
	postRoll  time.Duration
	minFrames int
	onResult  func(Result)

	mu       sync.Mutex // guards closed and inFlight
	closed   bool
	inFlight bool
	requests chan Request
	done     chan struct{}
}

// New creates an Extractor and starts its worker.
func New(cfg Config) *Extractor {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = DefaultPreRoll
	}
	if cfg.PostRoll <= 0 {
		cfg.PostRoll = DefaultPostRoll
	}
	if cfg.MinFrames <= 0 {
		cfg.MinFrames = DefaultMinFrames
	}

	e := &Extractor{
		buffer:    cfg.Buffer,
		encoder:   cfg.Encoder,
		clock:     cfg.Clock,
		preRoll:   cfg.PreRoll,
		postRoll:  cfg.PostRoll,
		minFrames: cfg.MinFrames,
		onResult:  cfg.OnResult,
		requests:  make(chan Request, 1),
		done:      make(chan struct{}),
	}
	go e.worker()
	return e
}

// SubmitEvent pads the event's action window and submits it.
func (e *Extractor) SubmitEvent(ev *bout.Event) error {
	return e.Submit(Request{
		WindowStart: ev.StartedAt.Add(-e.preRoll),
		WindowEnd:   ev.EndedAt.Add(e.postRoll),
		Reason:      ev.Reason,
		Snapshot:    ev.Snapshot,
	})
}

// Submit hands a request to the worker. Returns ErrBusy while an
// extraction is in flight and ErrClosed after Close. Never blocks.
func (e *Extractor) Submit(req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.inFlight {
		return ErrBusy
	}
	// inFlight was false, so the worker has drained the channel and the
	// buffered send cannot block.
	e.inFlight = true
	e.requests <- req
	return nil
}

// Close stops intake, lets an in-flight extraction finish, and waits for
// the worker to exit. Safe to call once; the service calls it after both
// loops have stopped.
func (e *Extractor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.requests)
	e.mu.Unlock()

	<-e.done
}

// worker processes requests one at a time so clip saves never overlap.
func (e *Extractor) worker() {
	defer close(e.done)
	for req := range e.requests {
		e.process(req)
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}
}

func (e *Extractor) process(req Request) {
	res := Result{Request: req}

	frames := e.buffer.Window(req.WindowStart, req.WindowEnd)
	res.FrameCount = len(frames)
	if len(frames) < e.minFrames {
		res.Err = fmt.Errorf("%w: got %d, need %d", ErrInsufficientFrames, len(frames), e.minFrames)
		monitoring.Logf("clip aborted (%s): %v", req.Reason, res.Err)
		e.report(res)
		return
	}

	res.OutputID = OutputID(e.clock.Now(), req.Snapshot)
	if err := e.encoder.WriteClip(frames, res.OutputID); err != nil {
		res.Err = fmt.Errorf("encode clip %s: %w", res.OutputID, err)
		monitoring.Logf("failed to save clip %s: %v", res.OutputID, err)
		e.report(res)
		return
	}

	duration := req.WindowEnd.Sub(req.WindowStart).Seconds()
	monitoring.Logf("saved clip %s (%d frames, %.1fs, %s)", res.OutputID, len(frames), duration, req.Reason)
	e.report(res)
}

func (e *Extractor) report(res Result) {
	if e.onResult != nil {
		e.onResult(res)
	}
}

// OutputID derives the clip identifier from the wall-clock save time and
// the triggering snapshot's scores: clip_YYYYMMDD_HHMMSS_L{left}_R{right}.
// Encoders append their own extension.
func OutputID(at time.Time, s favero.Snapshot) string {
	return fmt.Sprintf("clip_%s_L%d_R%d", at.Format("20060102_150405"), s.LeftScore, s.RightScore)
}
