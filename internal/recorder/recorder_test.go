package recorder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astromech-labs/droidvision/internal/encoder"
)

func testEncodedFrame(seq uint64) *encoder.EncodedFrame {
	return &encoder.EncodedFrame{
		Data:      []byte{0xff, 0xd8, byte(seq), 0xff, 0xd9},
		Seq:       seq,
		Timestamp: time.Unix(0, int64(seq)*int64(time.Millisecond)),
		Quality:   80,
		Width:     640,
		Height:    480,
	}
}

func writeTestLog(t *testing.T, dir string, frames int) string {
	t.Helper()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for i := 1; i <= frames; i++ {
		if err := w.Record(testEncodedFrame(uint64(i))); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_frames.dvfl"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one frame log, got %v (%v)", matches, err)
	}
	return matches[0]
}

func TestWriteAndReadBack(t *testing.T) {
	path := writeTestLog(t, t.TempDir(), 3)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	for want := uint64(1); want <= 3; want++ {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed at %d: %v", want, err)
		}
		if rec.Seq != want {
			t.Errorf("seq %d, want %d", rec.Seq, want)
		}
		if rec.Width != 640 || rec.Height != 480 || rec.Quality != 80 {
			t.Errorf("metadata lost: %+v", rec)
		}
		if len(rec.JPEG) != 5 || rec.JPEG[2] != byte(want) {
			t.Errorf("payload corrupted: %v", rec.JPEG)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderRewind(t *testing.T) {
	path := writeTestLog(t, t.TempDir(), 2)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	for {
		if _, err := r.Next(); err != nil {
			break
		}
	}
	if err := r.Rewind(); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next after rewind failed: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("expected first record after rewind, got seq %d", rec.Seq)
	}
}

func TestReaderRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-log.bin")
	if err := os.WriteFile(path, []byte("BOGUS payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path); err == nil {
		t.Fatal("expected magic check to fail")
	}
}

func TestWriterRefusesAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Record(testEncodedFrame(1)); err == nil {
		t.Fatal("expected Record after Close to fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close not a no-op: %v", err)
	}
}
