// Package encode turns extracted frame sequences into clip artifacts on
// disk. Two encoders are provided: an MP4 writer backed by OpenCV (only
// when built with -tags=camera) and a frame-directory encoder that writes
// the JPEG sequence plus an index and has no native dependencies.
package encode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/piste-data/touche.report/internal/security"
)

// ErrNoFrames is returned when a clip is submitted with an empty frame
// sequence.
var ErrNoFrames = errors.New("no frames to encode")

// clipPath joins a sanitized output identifier with the clips directory
// and verifies the result stays inside it. Sanitization strips path
// separators, so identifiers like "../../etc/x" flatten to plain names
// instead of escaping.
func clipPath(dir, outputID, suffix string) (string, error) {
	if outputID == "" {
		return "", errors.New("empty output id")
	}

	base := security.SanitizeFilename(outputID)
	joined := filepath.Clean(filepath.Join(dir, base+suffix))

	cleanDir := filepath.Clean(dir)
	if joined != cleanDir && !strings.HasPrefix(joined, cleanDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("output path for %q escapes clips directory %q", outputID, dir)
	}
	return joined, nil
}
