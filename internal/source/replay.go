package source

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"time"

	"github.com/astromech-labs/droidvision/internal/pipeline"
	"github.com/astromech-labs/droidvision/internal/recorder"
)

// Replay plays a recorded frame log back at its original cadence
type Replay struct {
	path string
	loop bool

	reader *recorder.Reader
	prevTs int64
	last   time.Time
}

// NewReplay creates a replayer for the frame log at path. With loop set the
// log restarts at the end instead of exhausting the source.
func NewReplay(path string, loop bool) *Replay {
	return &Replay{
		path: path,
		loop: loop,
	}
}

// Name returns the backend name with the log path
func (r *Replay) Name() string {
	return "replay:" + r.path
}

// Open opens the frame log
func (r *Replay) Open() error {
	reader, err := recorder.NewReader(r.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r.reader = reader
	r.prevTs = 0
	r.last = time.Time{}
	return nil
}

// Close closes the frame log
func (r *Replay) Close() error {
	if r.reader == nil {
		return nil
	}
	reader := r.reader
	r.reader = nil
	return reader.Close()
}

// ReadFrame returns the next recorded frame, sleeping to reproduce the
// recorded inter-frame spacing.
func (r *Replay) ReadFrame() (*pipeline.Frame, error) {
	if r.reader == nil {
		return nil, fmt.Errorf("replay source not open: %w", ErrDeviceUnavailable)
	}

	rec, err := r.reader.Next()
	if errors.Is(err, io.EOF) {
		if !r.loop {
			return nil, fmt.Errorf("%w: end of frame log", ErrCaptureTimeout)
		}
		if err := r.reader.Rewind(); err != nil {
			return nil, fmt.Errorf("rewind frame log: %w", err)
		}
		r.prevTs = 0
		rec, err = r.reader.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: frame log is empty", ErrCaptureTimeout)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read frame log: %w", err)
	}

	if r.prevTs != 0 && rec.TimestampNs > r.prevTs {
		gap := time.Duration(rec.TimestampNs - r.prevTs)
		if elapsed := time.Since(r.last); elapsed < gap {
			time.Sleep(gap - elapsed)
		}
	}
	r.prevTs = rec.TimestampNs
	r.last = time.Now()

	img, err := jpeg.Decode(bytes.NewReader(rec.JPEG))
	if err != nil {
		return nil, fmt.Errorf("decode recorded frame %d: %w", rec.Seq, err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		bounds := img.Bounds()
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}

	return &pipeline.Frame{
		Image:     rgba,
		Timestamp: time.Now(),
	}, nil
}
