package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/piste-data/touche.report/internal/framebuf"
	"github.com/piste-data/touche.report/internal/timeutil"
)

// Synthetic generates a moving test pattern at the nominal capture rate,
// paced by the injected clock. It exists so the whole capture pipeline can
// run on machines without a camera and inside tests.
type Synthetic struct {
	opts  Options
	clock timeutil.Clock

	mu      sync.Mutex
	frameNo int
	closed  bool
}

// NewSynthetic creates a synthetic source with the given options, paced by
// clock.
func NewSynthetic(opts Options, clock timeutil.Clock) *Synthetic {
	return &Synthetic{
		opts:  opts.Normalize(),
		clock: clock,
	}
}

// NextFrame renders the next pattern frame. The first frame is produced
// immediately; each subsequent call sleeps one frame interval so the stream
// runs at the configured rate. Returns io.EOF after Close.
func (s *Synthetic) NextFrame() (framebuf.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return framebuf.Frame{}, io.EOF
	}
	frameNo := s.frameNo
	s.frameNo++
	s.mu.Unlock()

	if frameNo > 0 {
		s.clock.Sleep(time.Second / time.Duration(s.opts.FPS))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return framebuf.Frame{}, io.EOF
	}
	s.mu.Unlock()

	data, err := s.render(frameNo)
	if err != nil {
		return framebuf.Frame{}, err
	}

	return framebuf.Frame{
		Data:       data,
		Width:      s.opts.Width,
		Height:     s.opts.Height,
		CapturedAt: s.clock.Now(),
	}, nil
}

// render draws the pattern for one frame: a dark field with a bright bar
// sweeping left to right, so consecutive frames are visibly distinct and
// motion is obvious when a clip plays back.
func (s *Synthetic) render(frameNo int) ([]byte, error) {
	w, h := s.opts.Width, s.opts.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	background := color.RGBA{R: 24, G: 24, B: 32, A: 255}
	bar := color.RGBA{R: 220, G: 220, B: 40, A: 255}

	barWidth := w / 16
	if barWidth < 1 {
		barWidth = 1
	}
	barX := (frameNo * 8) % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, background)
		}
	}
	for y := 0; y < h; y++ {
		for dx := 0; dx < barWidth; dx++ {
			img.SetRGBA((barX+dx)%w, y, bar)
		}
	}

	// A thin strip along the top encodes the frame counter so any two
	// frames differ even when the bar wraps to the same column.
	counter := color.RGBA{R: uint8(frameNo), G: uint8(frameNo >> 8), B: 128, A: 255}
	for x := 0; x < w; x++ {
		img.SetRGBA(x, 0, counter)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close ends the stream; subsequent NextFrame calls return io.EOF.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
