// Package camera produces the stream of video frames that feeds the frame
// buffer. Two sources are provided: a real webcam capture (requires the
// camera build tag) and a synthetic test-pattern generator used in
// development and tests.
package camera

import (
	"github.com/piste-data/touche.report/internal/framebuf"
)

// Source delivers captured frames one at a time. NextFrame blocks until the
// next frame is due and returns io.EOF when the stream ends; any other error
// means the source failed mid-stream. Close releases the underlying device.
type Source interface {
	NextFrame() (framebuf.Frame, error)
	Close() error
}

// Options describes a capture configuration. The zero value normalizes to
// device 0 at 1280x720 and 30 frames per second.
type Options struct {
	// DeviceID selects the capture device (V4L2 index on Linux).
	DeviceID int

	Width  int
	Height int
	FPS    int

	// IsRecording, when non-nil, is consulted per frame; while it reports
	// true a red REC marker is drawn on webcam frames before encoding.
	IsRecording func() bool
}

// Normalize applies capture defaults for any unset values.
func (o Options) Normalize() Options {
	opts := o
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return opts
}
