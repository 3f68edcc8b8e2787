//go:build camera
// +build camera

package encode

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/piste-data/touche.report/internal/framebuf"
	"github.com/piste-data/touche.report/internal/security"
)

// VideoWriter encodes clips as MP4 files (mp4v fourcc) through OpenCV.
type VideoWriter struct {
	dir string
	fps int
}

// NewVideoWriter creates an MP4 encoder writing into dir at the given
// nominal frame rate. The directory is created if missing.
func NewVideoWriter(dir string, fps int) (*VideoWriter, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", fps)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clips directory: %w", err)
	}
	return &VideoWriter{dir: dir, fps: fps}, nil
}

// WriteClip decodes each frame's JPEG and writes <dir>/<outputID>.mp4.
// Output dimensions come from the first frame; frames with differing
// dimensions or undecodable data are skipped. If every frame is skipped
// the clip is not written and an error reports the skip count.
func (w *VideoWriter) WriteClip(frames []framebuf.Frame, outputID string) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}

	path, err := clipPath(w.dir, outputID, ".mp4")
	if err != nil {
		return err
	}
	if err := security.ValidatePathWithinDirectory(path, w.dir); err != nil {
		return fmt.Errorf("invalid clip path: %w", err)
	}

	width, height := frames[0].Width, frames[0].Height
	if width <= 0 || height <= 0 {
		return fmt.Errorf("first frame has invalid dimensions %dx%d", width, height)
	}

	writer, err := gocv.VideoWriterFile(path, "mp4v", float64(w.fps), width, height, true)
	if err != nil {
		return fmt.Errorf("open video writer for %s: %w", filepath.Base(path), err)
	}
	defer writer.Close()

	written, skipped := 0, 0
	for _, frame := range frames {
		if frame.Width != width || frame.Height != height {
			skipped++
			continue
		}

		mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
		if err != nil {
			skipped++
			continue
		}
		if mat.Empty() {
			mat.Close()
			skipped++
			continue
		}

		err = writer.Write(mat)
		mat.Close()
		if err != nil {
			return fmt.Errorf("write frame to %s: %w", filepath.Base(path), err)
		}
		written++
	}

	if written == 0 {
		return fmt.Errorf("no frames written to %s: all %d skipped", filepath.Base(path), skipped)
	}
	return nil
}

// ClipPath returns the file a given output ID is written to.
func (w *VideoWriter) ClipPath(outputID string) string {
	p, err := clipPath(w.dir, outputID, ".mp4")
	if err != nil {
		return ""
	}
	return p
}
