package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Processor is a pluggable frame-processing stage between the buffer and the
// encoder. Stages mutate the frame in place; a failing stage is skipped, not
// fatal.
type Processor interface {
	Process(f *Frame) error
	Name() string
}

// TimestampOverlay stamps capture time and sequence number into the corner of
// each frame.
type TimestampOverlay struct {
	textColor color.RGBA
	bgColor   color.RGBA
	padding   int
}

// NewTimestampOverlay creates the overlay stage with the default style
func NewTimestampOverlay() *TimestampOverlay {
	return &TimestampOverlay{
		textColor: color.RGBA{255, 255, 255, 255},
		bgColor:   color.RGBA{0, 0, 0, 180},
		padding:   4,
	}
}

// Name returns the stage name
func (t *TimestampOverlay) Name() string {
	return "timestamp_overlay"
}

// Process draws the label onto the frame image
func (t *TimestampOverlay) Process(f *Frame) error {
	if f.Image == nil {
		return fmt.Errorf("frame has no image")
	}

	label := fmt.Sprintf("%s  #%d", f.Timestamp.Format("15:04:05.000"), f.Seq)
	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  f.Image,
		Src:  image.NewUniform(t.textColor),
		Face: face,
	}
	textWidth := int(d.MeasureString(label) >> 6)

	boxW := textWidth + t.padding*2
	boxH := face.Height + t.padding*2
	box := image.Rect(0, 0, boxW, boxH)
	draw.Draw(f.Image, box, &image.Uniform{t.bgColor}, image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(t.padding),
		Y: fixed.I(t.padding + face.Ascent),
	}
	d.DrawString(label)

	return nil
}
