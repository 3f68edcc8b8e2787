//go:build !camera
// +build !camera

package encode

import (
	"fmt"

	"github.com/piste-data/touche.report/internal/framebuf"
)

// VideoWriter is a stub when camera support is disabled.
// Build with -tags=camera to enable MP4 encoding.
type VideoWriter struct{}

// NewVideoWriter is a stub implementation when camera support is disabled
// Build with -tags=camera to enable MP4 encoding
func NewVideoWriter(dir string, fps int) (*VideoWriter, error) {
	return nil, fmt.Errorf("video encoding not enabled: rebuild with -tags=camera to enable mp4 output")
}

// WriteClip exists so the stub still satisfies clip.Encoder; NewVideoWriter
// never returns a usable VideoWriter without camera support.
func (w *VideoWriter) WriteClip(frames []framebuf.Frame, outputID string) error {
	return fmt.Errorf("video encoding not enabled")
}

// ClipPath reports no path for the stub.
func (w *VideoWriter) ClipPath(outputID string) string {
	return ""
}
