//go:build camera
// +build camera

package camera

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/piste-data/touche.report/internal/framebuf"
)

// Webcam captures frames from a local video device via OpenCV. Each frame is
// stamped with the capture time and, while recording, a red REC marker, then
// JPEG encoded. Only available when building with the 'camera' build tag.
type Webcam struct {
	opts    Options
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// NewWebcam opens the configured capture device and applies the requested
// dimensions and frame rate. The device may quietly clamp to the nearest
// mode it supports.
func NewWebcam(opts Options) (*Webcam, error) {
	opts = opts.Normalize()

	capture, err := gocv.VideoCaptureDevice(opts.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", opts.DeviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(opts.FPS))

	return &Webcam{
		opts:    opts,
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// NextFrame reads one frame from the device, draws the overlay and encodes
// it. Returns io.EOF when the device stops delivering frames.
func (w *Webcam) NextFrame() (framebuf.Frame, error) {
	// A single empty grab happens on some devices right after mode changes;
	// tolerate a couple before declaring the stream over.
	for attempt := 0; attempt < 3; attempt++ {
		if ok := w.capture.Read(&w.mat); !ok {
			return framebuf.Frame{}, io.EOF
		}
		if !w.mat.Empty() {
			break
		}
		if attempt == 2 {
			return framebuf.Frame{}, io.EOF
		}
	}

	now := time.Now()
	w.drawOverlay(now)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.mat)
	if err != nil {
		return framebuf.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return framebuf.Frame{
		Data:       data,
		Width:      w.mat.Cols(),
		Height:     w.mat.Rows(),
		CapturedAt: now,
	}, nil
}

// drawOverlay burns the capture timestamp into the bottom-left corner and,
// while recording, a red dot with a REC label into the top-left.
func (w *Webcam) drawOverlay(now time.Time) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}

	stamp := now.Format("2006-01-02 15:04:05.000")
	gocv.PutText(&w.mat, stamp, image.Pt(10, w.mat.Rows()-14), gocv.FontHersheySimplex, 0.6, white, 2)

	if w.opts.IsRecording != nil && w.opts.IsRecording() {
		gocv.Circle(&w.mat, image.Pt(24, 28), 10, red, -1)
		gocv.PutText(&w.mat, "REC", image.Pt(44, 36), gocv.FontHersheySimplex, 0.8, red, 2)
	}
}

// Close releases the capture device.
func (w *Webcam) Close() error {
	w.mat.Close()
	return w.capture.Close()
}
