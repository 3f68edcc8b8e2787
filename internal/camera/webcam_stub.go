//go:build !camera
// +build !camera

package camera

import (
	"fmt"

	"github.com/piste-data/touche.report/internal/framebuf"
)

// Webcam is a stub when camera support is disabled.
// Build with -tags=camera to enable webcam capture.
type Webcam struct{}

// NewWebcam is a stub implementation when camera support is disabled
// Build with -tags=camera to enable webcam capture
func NewWebcam(opts Options) (*Webcam, error) {
	return nil, fmt.Errorf("camera support not enabled: rebuild with -tags=camera to enable webcam capture")
}

// NextFrame exists so the stub still satisfies Source; NewWebcam never
// returns a usable Webcam without camera support.
func (w *Webcam) NextFrame() (framebuf.Frame, error) {
	return framebuf.Frame{}, fmt.Errorf("camera support not enabled")
}

// Close exists so the stub still satisfies Source.
func (w *Webcam) Close() error {
	return nil
}
