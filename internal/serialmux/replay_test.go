package serialmux

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// writeCapture writes records back-to-back into a capture file and returns
// its path.
func writeCapture(t *testing.T, records ...[]byte) string {
	t.Helper()
	var data []byte
	for _, r := range records {
		data = append(data, r...)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write capture file: %v", err)
	}
	return path
}

func TestReplayPort_ReadsRecordsThenEOF(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC))
	path := writeCapture(t, testRecord(0, 0), testRecord(1, 0))

	port, err := NewReplayPort(path, time.Second, clock)
	if err != nil {
		t.Fatalf("NewReplayPort returned error: %v", err)
	}
	defer port.Close()

	buf := make([]byte, 64)

	// First chunk is released without pacing.
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("First read returned error: %v", err)
	}
	if n != favero.RecordLen {
		t.Errorf("First read returned %d bytes, want %d", n, favero.RecordLen)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("First read slept %v, want no sleep", clock.Sleeps())
	}

	// Second chunk is paced by one interval.
	n, err = port.Read(buf)
	if err != nil {
		t.Fatalf("Second read returned error: %v", err)
	}
	if n != favero.RecordLen {
		t.Errorf("Second read returned %d bytes, want %d", n, favero.RecordLen)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Errorf("Second read sleeps = %v, want [1s]", sleeps)
	}

	// Capture exhausted.
	_, err = port.Read(buf)
	if !errors.Is(err, io.EOF) {
		t.Errorf("Read past end returned %v, want io.EOF", err)
	}
}

func TestReplayPort_DefaultInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC))
	path := writeCapture(t, testRecord(0, 0), testRecord(1, 0))

	port, err := NewReplayPort(path, 0, clock)
	if err != nil {
		t.Fatalf("NewReplayPort returned error: %v", err)
	}
	defer port.Close()

	buf := make([]byte, 64)
	if _, err := port.Read(buf); err != nil {
		t.Fatalf("First read returned error: %v", err)
	}
	if _, err := port.Read(buf); err != nil {
		t.Fatalf("Second read returned error: %v", err)
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Errorf("Sleeps = %v, want [1s] from the default interval", sleeps)
	}
}

func TestReplayPort_MissingFile(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC))
	_, err := NewReplayPort("/nonexistent/capture.bin", time.Second, clock)
	if err == nil {
		t.Error("Expected error for missing capture file, got nil")
	}
}

func TestReplayPort_ReadAfterClose(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC))
	path := writeCapture(t, testRecord(0, 0))

	port, err := NewReplayPort(path, time.Second, clock)
	if err != nil {
		t.Fatalf("NewReplayPort returned error: %v", err)
	}

	if err := port.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	buf := make([]byte, 64)
	if _, err := port.Read(buf); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Read after close returned %v, want ErrPortClosed", err)
	}
}

func TestReplayPort_WriteDiscarded(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 2, 19, 30, 0, 0, time.UTC))
	path := writeCapture(t, testRecord(0, 0))

	port, err := NewReplayPort(path, time.Second, clock)
	if err != nil {
		t.Fatalf("NewReplayPort returned error: %v", err)
	}
	defer port.Close()

	n, err := port.Write([]byte("anything"))
	if err != nil {
		t.Errorf("Write returned error: %v", err)
	}
	if n != 8 {
		t.Errorf("Write returned %d, want 8", n)
	}
}

// TestNewReplayMux_EndToEnd replays a short capture through a full mux and
// verifies the monitor terminates cleanly at end of capture.
func TestNewReplayMux_EndToEnd(t *testing.T) {
	path := writeCapture(t, testRecord(0, 0), testRecord(1, 0), testRecord(1, 1))

	mux, err := NewReplayMux(path, time.Millisecond)
	if err != nil {
		t.Fatalf("NewReplayMux returned error: %v", err)
	}
	defer mux.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mux.Monitor(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned unexpected error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Monitor did not terminate at end of capture")
	}

	stats := mux.Stats()
	if stats.Records != 3 {
		t.Errorf("Records = %d, want 3", stats.Records)
	}
}
