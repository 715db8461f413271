package pipeline

import (
	"image"
	"testing"
	"time"
)

func TestTimestampOverlayDrawsOnFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	f := &Frame{
		Image:     img,
		Seq:       42,
		Timestamp: time.Date(2026, 8, 25, 10, 15, 0, 0, time.UTC),
	}

	overlay := NewTimestampOverlay()
	if err := overlay.Process(f); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// The label background must have touched the top-left corner
	changed := false
	for x := 0; x < 50 && !changed; x++ {
		for y := 0; y < 10 && !changed; y++ {
			r, g, b, a := img.At(x, y).RGBA()
			if r != 0 || g != 0 || b != 0 || a != 0 {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("overlay did not modify the frame")
	}
}

func TestTimestampOverlayRejectsEmptyFrame(t *testing.T) {
	overlay := NewTimestampOverlay()
	if err := overlay.Process(&Frame{}); err == nil {
		t.Fatal("expected error for frame without image")
	}
}
