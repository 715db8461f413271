package pipeline

import (
	"image"
	"time"
)

// Frame is one captured image buffer. It is owned by the capture loop until
// offered to the buffer, then by whichever consumer takes it.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	Timestamp  time.Time
	Detections []Detection
}

// Detection is an object-detection result attached to a frame by a processor
// stage. Detection itself is produced externally; the pipeline only carries it.
type Detection struct {
	Class      string
	Confidence float64
	BBox       [4]float64 // x1, y1, x2, y2
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}
