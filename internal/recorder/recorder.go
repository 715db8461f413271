// Package recorder persists encoded frames to a CBOR frame log that the
// replay source can play back later.
package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/astromech-labs/droidvision/internal/encoder"
)

// Magic prefixes every frame log file
const Magic = "DVFL1"

// Record is one frame-log entry
type Record struct {
	Seq         uint64 `cbor:"1,keyasint"`
	TimestampNs int64  `cbor:"2,keyasint"`
	Quality     int    `cbor:"3,keyasint"`
	Width       int    `cbor:"4,keyasint"`
	Height      int    `cbor:"5,keyasint"`
	JPEG        []byte `cbor:"6,keyasint"`
}

// Writer appends frames to a log file
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *cbor.Encoder
}

// NewWriter creates a timestamped frame log in dir
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	name := filepath.Join(dir, time.Now().Format("20060102_150405")+"_frames.dvfl")
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame log: %w", err)
	}
	buf := bufio.NewWriterSize(f, 1<<20)
	if _, err := buf.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:   f,
		buf: buf,
		enc: cbor.NewEncoder(buf),
	}, nil
}

// Record appends one encoded frame
func (w *Writer) Record(ef *encoder.EncodedFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return fmt.Errorf("frame log writer is closed")
	}
	return w.enc.Encode(Record{
		Seq:         ef.Seq,
		TimestampNs: ef.Timestamp.UnixNano(),
		Quality:     ef.Quality,
		Width:       ef.Width,
		Height:      ef.Height,
		JPEG:        ef.Data,
	})
}

// Close flushes and closes the log file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	w.buf = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Reader iterates a frame log
type Reader struct {
	f   *os.File
	dec *cbor.Decoder
}

// NewReader opens a frame log and validates its magic
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame log: %w", err)
	}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != Magic {
		_ = f.Close()
		return nil, fmt.Errorf("%s is not a droidvision frame log", path)
	}
	return &Reader{
		f:   f,
		dec: cbor.NewDecoder(f),
	}, nil
}

// Next returns the next record, or io.EOF at the end of the log
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Rewind seeks back to the first record
func (r *Reader) Rewind() error {
	if _, err := r.f.Seek(int64(len(Magic)), io.SeekStart); err != nil {
		return err
	}
	r.dec = cbor.NewDecoder(r.f)
	return nil
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.f.Close()
}
