package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/astromech-labs/droidvision/internal/pipeline"
)

// ErrInvalidQuality is returned for quality values outside [1,100]
var ErrInvalidQuality = errors.New("quality must be between 1 and 100")

// EncodedFrame is an immutable compressed frame shared read-only by all
// subscribers in a broadcast cycle.
type EncodedFrame struct {
	Data      []byte
	Base64    string
	Seq       uint64
	Timestamp time.Time
	Quality   int
	Width     int
	Height    int
}

// Encode compresses a frame to JPEG at the given quality. Pure with respect
// to its inputs; safe to call concurrently.
func Encode(f *pipeline.Frame, quality int) (*EncodedFrame, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	if f == nil || f.Image == nil {
		return nil, fmt.Errorf("cannot encode empty frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	data := buf.Bytes()
	return &EncodedFrame{
		Data:      data,
		Base64:    base64.StdEncoding.EncodeToString(data),
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Quality:   quality,
		Width:     f.Width(),
		Height:    f.Height(),
	}, nil
}
