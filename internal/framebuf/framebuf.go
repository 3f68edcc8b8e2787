// Package framebuf holds the rolling window of recently captured video
// frames that clips are extracted from.
package framebuf

import (
	"sync"
	"time"
)

// Frame is one captured image with its capture time. Data is an encoded
// JPEG owned by the frame; once appended to a Buffer it is never mutated,
// so copies of the Frame value can be handed out freely.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Buffer is a fixed-capacity ring of frames in insertion (chronological)
// order. One capture goroutine appends while the telemetry side queries
// windows; a single mutex covers both since the rates involved are tiny
// (tens of appends and at most one window query per second).
type Buffer struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	head     int // next write position
	size     int // current number of frames stored
}

// NewBuffer creates a buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		frames:   make([]Frame, capacity),
		capacity: capacity,
	}
}

// Append stores a frame, evicting the oldest once the buffer is full.
func (b *Buffer) Append(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames[b.head] = f
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Window returns copies of all frames whose capture time lies in the
// closed interval [start, end], oldest first. The result is detached from
// the buffer: concurrent appends and evictions cannot disturb it.
func (b *Buffer) Window(start, end time.Time) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Frame
	for i := 0; i < b.size; i++ {
		// walk from oldest to newest
		idx := (b.head - b.size + i + b.capacity) % b.capacity
		f := b.frames[idx]
		if f.CapturedAt.Before(start) || f.CapturedAt.After(end) {
			continue
		}
		result = append(result, f)
	}
	return result
}

// Len returns the current number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the maximum number of frames the buffer holds.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Oldest returns the earliest buffered frame, if any.
func (b *Buffer) Oldest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return Frame{}, false
	}
	idx := (b.head - b.size + b.capacity) % b.capacity
	return b.frames[idx], true
}

// Newest returns the most recently appended frame, if any.
func (b *Buffer) Newest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return Frame{}, false
	}
	idx := (b.head - 1 + b.capacity) % b.capacity
	return b.frames[idx], true
}

// Clear removes all frames.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.frames {
		b.frames[i] = Frame{}
	}
	b.head = 0
	b.size = 0
}
