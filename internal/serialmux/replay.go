package serialmux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// ErrPortClosed is returned by reads on a replay port after Close.
var ErrPortClosed = errors.New("serial port closed")

// ReplayPort replays a binary capture file as if it were the live serial
// line. Each Read releases at most one record-length chunk, sleeping one
// interval between chunks so downstream consumers observe the device rate.
// Read returns io.EOF once the capture is exhausted.
type ReplayPort struct {
	mu       sync.Mutex
	data     []byte
	pos      int
	started  bool
	closed   bool
	interval time.Duration
	clock    timeutil.Clock
}

// NewReplayPort opens a replay port over the capture file at path. An
// interval <= 0 falls back to the FA-05 broadcast rate of one record per
// second.
func NewReplayPort(path string, interval time.Duration, clock timeutil.Clock) (*ReplayPort, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplayPort{
		data:     data,
		interval: interval,
		clock:    clock,
	}, nil
}

// Read copies the next record-length chunk of the capture into p. The first
// chunk is released immediately; each subsequent chunk is preceded by one
// interval of sleep.
func (p *ReplayPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if p.pos >= len(p.data) {
		p.mu.Unlock()
		return 0, io.EOF
	}
	first := !p.started
	p.started = true
	p.mu.Unlock()

	if !first {
		// Pace outside the lock so Close is not held up by the sleep.
		p.clock.Sleep(p.interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}

	end := p.pos + favero.RecordLen
	if end > len(p.data) {
		end = len(p.data)
	}
	n := copy(buf, p.data[p.pos:end])
	p.pos += n
	return n, nil
}

// Write discards its input; a capture file has no device to talk back to.
func (p *ReplayPort) Write(b []byte) (int, error) {
	return len(b), nil
}

// Close stops the replay. Subsequent reads fail.
func (p *ReplayPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// NewReplayMux creates a SerialMux that replays the capture file at path,
// one record per interval on the wall clock.
func NewReplayMux(path string, interval time.Duration) (*SerialMux[*ReplayPort], error) {
	port, err := NewReplayPort(path, interval, timeutil.RealClock{})
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
