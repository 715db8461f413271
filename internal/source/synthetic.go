package source

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/astromech-labs/droidvision/internal/pipeline"
)

// Synthetic generates a moving test pattern for camera-less development and
// tests. ReadFrame paces itself to the configured rate like real hardware.
type Synthetic struct {
	width  int
	height int
	period time.Duration

	opened bool
	seq    uint64
	last   time.Time
}

// NewSynthetic creates a generator producing width x height frames at fps
func NewSynthetic(width, height, fps int) *Synthetic {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	if fps <= 0 {
		fps = 30
	}
	return &Synthetic{
		width:  width,
		height: height,
		period: time.Second / time.Duration(fps),
	}
}

// Name returns the backend name
func (s *Synthetic) Name() string {
	return "synthetic"
}

// Open marks the generator ready
func (s *Synthetic) Open() error {
	s.opened = true
	s.seq = 0
	return nil
}

// Close releases the generator
func (s *Synthetic) Close() error {
	s.opened = false
	return nil
}

// ReadFrame produces the next test-pattern frame
func (s *Synthetic) ReadFrame() (*pipeline.Frame, error) {
	if !s.opened {
		return nil, fmt.Errorf("synthetic source not open: %w", ErrDeviceUnavailable)
	}

	// Mimic a blocking hardware read so capture pacing behaves as with a camera
	if !s.last.IsZero() {
		if wait := s.period - time.Since(s.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.last = time.Now()
	s.seq++

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	shift := int(s.seq % 256)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}

	label := fmt.Sprintf("droidvision test pattern %d", s.seq)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, s.height-8),
	}
	d.DrawString(label)

	return &pipeline.Frame{
		Image:     img,
		Timestamp: s.last,
	}, nil
}
