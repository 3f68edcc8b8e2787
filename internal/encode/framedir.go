package encode

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/piste-data/touche.report/internal/framebuf"
	"github.com/piste-data/touche.report/internal/fsutil"
)

// FrameDir writes each clip as a directory of numbered JPEG files plus an
// index.json describing the sequence. It needs no video libraries, so it
// serves headless builds and tests, and downstream tooling can assemble
// the sequence into any container format.
type FrameDir struct {
	dir string
	fs  fsutil.FileSystem
}

// NewFrameDir creates a frame-directory encoder rooted at dir.
func NewFrameDir(dir string, fs fsutil.FileSystem) *FrameDir {
	return &FrameDir{dir: dir, fs: fs}
}

// IndexEntry describes one frame file within a clip directory.
type IndexEntry struct {
	File       string    `json:"file"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// Index is the content of a clip directory's index.json.
type Index struct {
	OutputID   string       `json:"output_id"`
	FrameCount int          `json:"frame_count"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Frames     []IndexEntry `json:"frames"`
}

// WriteClip writes frames as <dir>/<outputID>/NNNNN.jpg files along with
// an index.json. Frame order is preserved; numbering starts at 00000.
func (f *FrameDir) WriteClip(frames []framebuf.Frame, outputID string) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}

	clipDir, err := clipPath(f.dir, outputID, "")
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(clipDir, 0o755); err != nil {
		return fmt.Errorf("create clip directory: %w", err)
	}

	index := Index{
		OutputID:   outputID,
		FrameCount: len(frames),
		Width:      frames[0].Width,
		Height:     frames[0].Height,
		Frames:     make([]IndexEntry, 0, len(frames)),
	}

	for i, frame := range frames {
		name := fmt.Sprintf("%05d.jpg", i)
		if err := f.fs.WriteFile(filepath.Join(clipDir, name), frame.Data, 0o644); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		index.Frames = append(index.Frames, IndexEntry{
			File:       name,
			Width:      frame.Width,
			Height:     frame.Height,
			CapturedAt: frame.CapturedAt,
		})
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := f.fs.WriteFile(filepath.Join(clipDir, "index.json"), data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// ClipPath returns the directory a given output ID is written to.
func (f *FrameDir) ClipPath(outputID string) string {
	p, err := clipPath(f.dir, outputID, "")
	if err != nil {
		return ""
	}
	return p
}
