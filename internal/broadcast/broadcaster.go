package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/astromech-labs/droidvision/internal/encoder"
	"github.com/astromech-labs/droidvision/internal/logger"
	"github.com/astromech-labs/droidvision/internal/pipeline"
	"github.com/astromech-labs/droidvision/internal/protocol"
)

// FrameHook observes every successfully encoded frame. Used to feed the MJPEG
// preview and the frame recorder without coupling them into the loop.
type FrameHook func(*encoder.EncodedFrame)

// Options tune the broadcast loop
type Options struct {
	TargetFPS         int
	TakeTimeout       time.Duration
	HeartbeatInterval time.Duration
	Quality           int
	Kind              string
}

// Broadcaster is the consumer side of the pipeline: it drains the frame
// buffer at a target cadence, runs the processor chain, encodes, and fans the
// result out to every connected subscriber.
type Broadcaster struct {
	buf      *pipeline.Buffer
	stats    *pipeline.Stats
	registry *Registry
	log      zerolog.Logger

	processors []pipeline.Processor
	hooks      []FrameHook

	interval    time.Duration
	takeTimeout time.Duration
	hbInterval  time.Duration
	quality     int
	kind        string

	// cameraActive feeds the heartbeat; it reports the capture loop state
	cameraActive func() bool

	start time.Time
}

// New creates a broadcaster. Kind must already be normalized via
// protocol.NormalizeKind.
func New(buf *pipeline.Buffer, stats *pipeline.Stats, registry *Registry, cameraActive func() bool, opts Options) *Broadcaster {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 15
	}
	if opts.TakeTimeout <= 0 {
		opts.TakeTimeout = 100 * time.Millisecond
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.Quality <= 0 {
		opts.Quality = 80
	}
	if opts.Kind == "" {
		opts.Kind = protocol.KindVideoFrame
	}
	return &Broadcaster{
		buf:          buf,
		stats:        stats,
		registry:     registry,
		log:          *logger.WithComponent("broadcast"),
		interval:     time.Second / time.Duration(opts.TargetFPS),
		takeTimeout:  opts.TakeTimeout,
		hbInterval:   opts.HeartbeatInterval,
		quality:      opts.Quality,
		kind:         opts.Kind,
		cameraActive: cameraActive,
	}
}

// AddProcessor appends a frame-processing stage. Not safe after Run starts.
func (b *Broadcaster) AddProcessor(p pipeline.Processor) {
	b.processors = append(b.processors, p)
}

// AddHook appends an encoded-frame observer. Not safe after Run starts.
func (b *Broadcaster) AddHook(h FrameHook) {
	b.hooks = append(b.hooks, h)
}

// Run drives the broadcast and heartbeat loops until ctx is cancelled, then
// closes all open connections.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(b.hbInterval)
	defer heartbeat.Stop()

	b.start = time.Now()
	b.log.Info().
		Dur("interval", b.interval).
		Int("quality", b.quality).
		Str("kind", b.kind).
		Msg("Broadcast loop started")

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Broadcast loop stopping")
			b.registry.CloseAll()
			return
		case <-ticker.C:
			b.broadcastOnce()
		case <-heartbeat.C:
			b.sendHeartbeat()
		}
	}
}

// broadcastOnce drains one frame and fans it out. A timeout on the buffer is
// a skipped cycle, not an error.
func (b *Broadcaster) broadcastOnce() {
	frame, ok := b.buf.Take(b.takeTimeout)
	if !ok {
		return
	}

	for _, p := range b.processors {
		if err := p.Process(frame); err != nil {
			b.log.Warn().Err(err).Str("stage", p.Name()).Msg("Processor stage failed, skipping stage")
		}
	}

	ef, err := encoder.Encode(frame, b.quality)
	if err != nil {
		b.stats.RecordEncodeError()
		b.log.Warn().Err(err).Uint64("seq", frame.Seq).Msg("Frame encode failed, skipping frame")
		return
	}

	for _, hook := range b.hooks {
		hook(ef)
	}

	msg := protocol.VideoFrame{
		Type:          protocol.TypeVideoFrame,
		SchemaVersion: protocol.SchemaVersion,
		Kind:          b.kind,
		Frame:         ef.Base64,
		Seq:           ef.Seq,
		Timestamp:     ef.Timestamp,
		Width:         ef.Width,
		Height:        ef.Height,
		Detections:    wireDetections(frame.Detections),
		Stats:         b.streamStats(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("Frame message marshal failed")
		return
	}

	b.fanout(payload)
	b.stats.RecordBroadcast()
}

// fanout writes the payload to a snapshot of the subscriber set. Failed
// subscribers are removed after the pass completes, never during iteration.
func (b *Broadcaster) fanout(payload []byte) {
	subs := b.registry.Snapshot()
	var failed []string
	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			b.log.Debug().Err(err).Str("subscriber", sub.ID).Msg("Subscriber write failed")
			failed = append(failed, sub.ID)
		}
	}
	for _, id := range failed {
		if b.registry.Remove(id) {
			b.log.Info().Str("subscriber", id).Int("remaining", b.registry.Len()).Msg("Subscriber removed after send failure")
		}
	}
}

func (b *Broadcaster) sendHeartbeat() {
	msg := protocol.Heartbeat{
		Type:          protocol.TypeHeartbeat,
		SchemaVersion: protocol.SchemaVersion,
		Timestamp:     time.Now(),
		CameraActive:  b.cameraActive(),
		Subscribers:   b.registry.Len(),
		UptimeSeconds: time.Since(b.start).Seconds(),
		Stats:         b.streamStats(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("Heartbeat marshal failed")
		return
	}
	b.fanout(payload)
}

// Status builds the /status reply from live counters
func (b *Broadcaster) Status(source string) protocol.SystemStatus {
	start := b.start
	if start.IsZero() {
		start = time.Now()
	}
	return protocol.SystemStatus{
		Type:          protocol.TypeSystemStatus,
		SchemaVersion: protocol.SchemaVersion,
		UptimeSeconds: time.Since(start).Seconds(),
		CameraActive:  b.cameraActive(),
		Subscribers:   b.registry.Len(),
		Source:        source,
		Stats:         b.streamStats(),
	}
}

func (b *Broadcaster) streamStats() *protocol.StreamStats {
	snap := b.stats.Snapshot()
	return &protocol.StreamStats{
		FPS:           snap.FPS,
		FramesTotal:   snap.Captured,
		FramesDropped: b.buf.Dropped(),
		EncodeErrors:  snap.EncodeErrors,
	}
}

func wireDetections(in []pipeline.Detection) []protocol.Detection {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.Detection, len(in))
	for i, d := range in {
		out[i] = protocol.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		}
	}
	return out
}
