// Package recorder wires the capture pipeline together: serial records in,
// decoded snapshots through the action detector, completed actions out to
// the store and the clip extractor. The HTTP API talks to the Service; the
// entrypoint owns the goroutines that drive it.
package recorder

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piste-data/touche.report/internal/bout"
	"github.com/piste-data/touche.report/internal/camera"
	"github.com/piste-data/touche.report/internal/clip"
	"github.com/piste-data/touche.report/internal/config"
	"github.com/piste-data/touche.report/internal/db"
	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/framebuf"
	"github.com/piste-data/touche.report/internal/monitoring"
	"github.com/piste-data/touche.report/internal/serialmux"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// ErrNotRecording rejects a manual stop when no action is in progress.
var ErrNotRecording = errors.New("recorder: no action in progress")

// Config wires a Service. Mux, Source and Encoder are required; a nil
// Store disables persistence (clips are still written), a nil Tuning uses
// the defaults.
type Config struct {
	Mux     serialmux.SerialMuxInterface
	Source  camera.Source
	Encoder clip.Encoder
	Store   *db.DB
	Tuning  *config.TuningConfig
	Clock   timeutil.Clock
}

// clipPather is implemented by encoders that can report the artifact path
// for an output ID, so clip rows carry a usable path instead of a bare ID.
type clipPather interface {
	ClipPath(outputID string) string
}

// Service owns the frame buffer, detector and extractor, and carries the
// session identity and pipeline counters. One Service runs per process.
type Service struct {
	mux       serialmux.SerialMuxInterface
	source    camera.Source
	encoder   clip.Encoder
	store     *db.DB
	clock     timeutil.Clock
	buffer    *framebuf.Buffer
	detector  *bout.Detector
	extractor *clip.Extractor

	sessionID string
	startedAt time.Time

	mu              sync.Mutex
	framesCaptured  uint64
	recordsDecoded  uint64
	decodeErrors    uint64
	actionsDetected uint64
	clipsSaved      uint64
	clipsFailed     uint64
	clipsDropped    uint64
	captureDegraded bool
	captureErr      string
	lastRecordAt    time.Time

	// pendingMu is held across submit so the extraction worker cannot
	// report a result before the matching action row id is recorded.
	pendingMu       sync.Mutex
	pendingActionID *int64
}

// NewService builds the pipeline from cfg. The frame buffer is sized from
// the tuning values (buffer seconds x frames per second).
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}

	s := &Service{
		mux:       cfg.Mux,
		source:    cfg.Source,
		encoder:   cfg.Encoder,
		store:     cfg.Store,
		clock:     cfg.Clock,
		buffer:    framebuf.NewBuffer(tuning.BufferCapacity()),
		detector:  bout.New(cfg.Clock, tuning.GetActionTimeout()),
		sessionID: uuid.New().String(),
		startedAt: cfg.Clock.Now(),
	}
	s.extractor = clip.New(clip.Config{
		Buffer:    s.buffer,
		Encoder:   cfg.Encoder,
		Clock:     cfg.Clock,
		PreRoll:   tuning.GetPreRoll(),
		PostRoll:  tuning.GetPostRoll(),
		MinFrames: tuning.GetMinClipFrames(),
		OnResult:  s.onClipResult,
	})
	return s
}

// SessionID returns the identifier stamped on every row this run writes.
func (s *Service) SessionID() string {
	return s.sessionID
}

// Run drives the capture and telemetry loops until ctx is cancelled and
// both have stopped. The mux Monitor goroutine is the caller's job.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.captureLoop(ctx)
		monitoring.Logf("capture loop terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.telemetryLoop(ctx)
		monitoring.Logf("telemetry loop terminated")
	}()

	wg.Wait()
}

// captureLoop appends source frames to the buffer. A source failure ends
// this loop only: telemetry keeps running so actions are still bracketed
// and persisted, and the service reports itself degraded.
func (s *Service) captureLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := s.source.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.markCaptureDegraded("video source ended")
			} else {
				s.markCaptureDegraded(err.Error())
				monitoring.Logf("video capture failed: %v", err)
			}
			return
		}

		s.buffer.Append(frame)
		s.mu.Lock()
		s.framesCaptured++
		s.mu.Unlock()
	}
}

// telemetryLoop consumes framed records from the mux and feeds the
// detector. Malformed records are counted and dropped; the loop never
// stops for one.
func (s *Service) telemetryLoop(ctx context.Context) {
	id, ch := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			s.handleRecord(record)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) handleRecord(record []byte) {
	snapshot, err := favero.Decode(record)
	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		monitoring.Debugf("dropped record: %v", err)
		return
	}

	s.mu.Lock()
	s.recordsDecoded++
	s.lastRecordAt = s.clock.Now()
	s.mu.Unlock()

	ev := s.detector.Observe(snapshot)
	if ev == nil {
		return
	}
	switch ev.Kind {
	case bout.ActionStarted:
		monitoring.Logf("action started: %s", ev.Snapshot)
	case bout.ActionEnded:
		s.finishAction(ev)
	}
}

// finishAction persists the completed action and submits its padded window
// for extraction. A busy extractor drops the clip (the window would age
// out of the buffer before the worker frees up) but the action row is
// already saved.
func (s *Service) finishAction(ev *bout.Event) error {
	s.mu.Lock()
	s.actionsDetected++
	s.mu.Unlock()

	duration := ev.EndedAt.Sub(ev.StartedAt)
	monitoring.Logf("action ended (%s) after %.1fs: %s", ev.Reason, duration.Seconds(), ev.Snapshot)

	var actionID int64
	if s.store != nil {
		id, err := s.store.RecordAction(db.Action{
			SessionID:   s.sessionID,
			StartedAt:   ev.StartedAt.UnixMilli(),
			EndedAt:     ev.EndedAt.UnixMilli(),
			Reason:      string(ev.Reason),
			LeftScore:   int(ev.Snapshot.LeftScore),
			RightScore:  int(ev.Snapshot.RightScore),
			MatchNumber: int(ev.Snapshot.MatchNumber),
			Lights:      int(ev.Snapshot.Lights),
		})
		if err != nil {
			monitoring.Logf("failed to record action: %v", err)
		} else {
			actionID = id
		}
	}

	s.pendingMu.Lock()
	err := s.extractor.SubmitEvent(ev)
	if err == nil && actionID != 0 {
		s.pendingActionID = &actionID
	}
	s.pendingMu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.clipsDropped++
		s.mu.Unlock()
		monitoring.Logf("clip dropped (%s): %v", ev.Reason, err)
	}
	return err
}

// onClipResult runs on the extraction worker after every attempt.
func (s *Service) onClipResult(res clip.Result) {
	s.pendingMu.Lock()
	actionID := s.pendingActionID
	s.pendingActionID = nil
	s.pendingMu.Unlock()

	if res.Err != nil {
		s.mu.Lock()
		s.clipsFailed++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.clipsSaved++
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	path := res.OutputID
	if p, ok := s.encoder.(clipPather); ok {
		if candidate := p.ClipPath(res.OutputID); candidate != "" {
			path = candidate
		}
	}
	if _, err := s.store.RecordClip(db.Clip{
		SessionID:   s.sessionID,
		ActionID:    actionID,
		Path:        path,
		FrameCount:  res.FrameCount,
		WindowStart: res.Request.WindowStart.UnixMilli(),
		WindowEnd:   res.Request.WindowEnd.UnixMilli(),
		Reason:      string(res.Request.Reason),
		LeftScore:   int(res.Request.Snapshot.LeftScore),
		RightScore:  int(res.Request.Snapshot.RightScore),
	}); err != nil {
		monitoring.Logf("failed to record clip %s: %v", res.OutputID, err)
	}
}

// TriggerStart begins an action from the operator surface. Reports whether
// the state changed; starting while recording is a no-op.
func (s *Service) TriggerStart() bool {
	started := s.detector.ForceStart()
	if started {
		monitoring.Logf("manual action started")
	}
	return started
}

// TriggerEnd stops the current action with reason Manual, persisting it
// and submitting its clip like any detected end. Returns ErrNotRecording
// when idle, or the extractor's rejection when the clip was dropped.
func (s *Service) TriggerEnd() error {
	ev := s.detector.ForceEnd()
	if ev == nil {
		return ErrNotRecording
	}
	return s.finishAction(ev)
}

// Recording reports whether an action is currently being bracketed.
func (s *Service) Recording() bool {
	recording, _, _, _ := s.detector.Status()
	return recording
}

func (s *Service) markCaptureDegraded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureDegraded = true
	s.captureErr = reason
}

// Close releases the pipeline once both loops have stopped: the extractor
// first, so an in-flight clip finishes, then the video source. The mux is
// closed by its creator.
func (s *Service) Close() error {
	s.extractor.Close()
	return s.source.Close()
}

// SnapshotStatus is the API view of the last decoded snapshot.
type SnapshotStatus struct {
	LeftScore   uint8  `json:"left_score"`
	RightScore  uint8  `json:"right_score"`
	Clock       string `json:"clock"`
	MatchNumber uint8  `json:"match_number"`
	Lights      uint8  `json:"lights"`
}

// Status is the point-in-time pipeline state reported by the API.
type Status struct {
	SessionID       string          `json:"session_id"`
	StartedAt       time.Time       `json:"started_at"`
	UptimeSeconds   float64         `json:"uptime_seconds"`
	Recording       bool            `json:"recording"`
	RecordingSince  *time.Time      `json:"recording_since,omitempty"`
	BufferFrames    int             `json:"buffer_frames"`
	BufferCapacity  int             `json:"buffer_capacity"`
	FramesCaptured  uint64          `json:"frames_captured"`
	RecordsDecoded  uint64          `json:"records_decoded"`
	DecodeErrors    uint64          `json:"decode_errors"`
	ActionsDetected uint64          `json:"actions_detected"`
	ClipsSaved      uint64          `json:"clips_saved"`
	ClipsFailed     uint64          `json:"clips_failed"`
	ClipsDropped    uint64          `json:"clips_dropped"`
	CaptureDegraded bool            `json:"capture_degraded"`
	CaptureError    string          `json:"capture_error,omitempty"`
	LastRecordAt    *time.Time      `json:"last_record_at,omitempty"`
	LastSnapshot    *SnapshotStatus `json:"last_snapshot,omitempty"`
}

// Status assembles the current pipeline state.
func (s *Service) Status() Status {
	recording, recordingSince, last, seen := s.detector.Status()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:       s.sessionID,
		StartedAt:       s.startedAt,
		UptimeSeconds:   s.clock.Since(s.startedAt).Seconds(),
		Recording:       recording,
		BufferFrames:    s.buffer.Len(),
		BufferCapacity:  s.buffer.Cap(),
		FramesCaptured:  s.framesCaptured,
		RecordsDecoded:  s.recordsDecoded,
		DecodeErrors:    s.decodeErrors,
		ActionsDetected: s.actionsDetected,
		ClipsSaved:      s.clipsSaved,
		ClipsFailed:     s.clipsFailed,
		ClipsDropped:    s.clipsDropped,
		CaptureDegraded: s.captureDegraded,
		CaptureError:    s.captureErr,
	}
	if recording {
		st.RecordingSince = &recordingSince
	}
	if !s.lastRecordAt.IsZero() {
		at := s.lastRecordAt
		st.LastRecordAt = &at
	}
	if seen {
		st.LastSnapshot = &SnapshotStatus{
			LeftScore:   last.LeftScore,
			RightScore:  last.RightScore,
			Clock:       last.ClockString(),
			MatchNumber: last.MatchNumber,
			Lights:      last.Lights,
		}
	}
	return st
}
