package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/astromech-labs/droidvision/internal/logger"
)

// ErrSourceExhausted is returned by Capture.Run after the consecutive read
// failure threshold is exceeded. The broadcast loop keeps running; only the
// producer stops.
var ErrSourceExhausted = errors.New("frame source exhausted")

// Source produces raw frames from a camera device or a synthetic generator.
// ReadFrame may block the calling goroutine for the duration of a hardware
// read, so it must only be called from the capture goroutine.
type Source interface {
	Open() error
	ReadFrame() (*Frame, error)
	Close() error
	Name() string
}

// Capture is the producer side of the pipeline: a dedicated goroutine pulling
// frames from a Source at a target cadence and offering them to the buffer.
type Capture struct {
	src   Source
	buf   *Buffer
	stats *Stats
	log   zerolog.Logger

	interval    time.Duration
	backoff     time.Duration
	maxFailures int

	active uint32
	seq    uint64
}

// CaptureOptions tune the capture loop
type CaptureOptions struct {
	TargetFPS   int
	Backoff     time.Duration
	MaxFailures int
}

// NewCapture wires a source to a buffer. The source must not be open yet;
// Run owns its whole open/close lifecycle.
func NewCapture(src Source, buf *Buffer, stats *Stats, opts CaptureOptions) *Capture {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 30
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 30
	}
	return &Capture{
		src:         src,
		buf:         buf,
		stats:       stats,
		log:         *logger.WithComponent("capture"),
		interval:    time.Second / time.Duration(opts.TargetFPS),
		backoff:     opts.Backoff,
		maxFailures: opts.MaxFailures,
	}
}

// Active reports whether the capture loop is currently producing frames.
// Read by the broadcast loop for heartbeat messages.
func (c *Capture) Active() bool {
	return atomic.LoadUint32(&c.active) == 1
}

// openAttempts bounds device acquisition retries; beyond this the failure is
// surfaced to the operator instead of retried forever
const openAttempts = 3

// Run opens the source and captures frames until ctx is cancelled or the
// consecutive failure threshold is exceeded. The source handle is closed on
// every exit path.
func (c *Capture) Run(ctx context.Context) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.src.Open(); err == nil {
			break
		}
		if attempt >= openAttempts {
			return err
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("Frame source open failed, retrying")
		if !sleepCtx(ctx, c.backoff*time.Duration(attempt)) {
			return err
		}
	}
	defer func() {
		atomic.StoreUint32(&c.active, 0)
		if err := c.src.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Error closing frame source")
		}
	}()

	atomic.StoreUint32(&c.active, 1)
	c.log.Info().Str("source", c.src.Name()).Msg("Capture loop started")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Capture loop stopping")
			return nil
		default:
		}

		start := time.Now()
		frame, err := c.src.ReadFrame()
		if err != nil {
			failures++
			c.log.Debug().Err(err).Int("consecutive", failures).Msg("Frame read failed")
			if failures >= c.maxFailures {
				c.log.Error().
					Int("failures", failures).
					Msg("Consecutive read failure threshold exceeded, stopping capture")
				return ErrSourceExhausted
			}
			if !sleepCtx(ctx, c.backoff) {
				return nil
			}
			continue
		}
		failures = 0

		frame.Seq = atomic.AddUint64(&c.seq, 1)
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		c.buf.Offer(frame)
		c.stats.RecordCapture(frame.Timestamp)

		if rest := c.interval - time.Since(start); rest > 0 {
			if !sleepCtx(ctx, rest) {
				return nil
			}
		}
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
