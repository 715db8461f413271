package pipeline

import (
	"math"
	"sync/atomic"
	"time"
)

// Stats is a small shared record updated by the capture loop and read by the
// broadcast loop for status messages. Counters are atomic; readers get
// eventual visibility, which is all the status path needs.
type Stats struct {
	captured     uint64
	broadcast    uint64
	encodeErrors uint64

	fpsBits     uint64 // math.Float64bits of the smoothed capture FPS
	lastCapture int64  // unix nanos of the previous capture
}

// NewStats creates an empty stats record
func NewStats() *Stats {
	return &Stats{}
}

// RecordCapture counts one captured frame and folds its arrival time into the
// smoothed FPS estimate.
func (s *Stats) RecordCapture(now time.Time) {
	atomic.AddUint64(&s.captured, 1)

	prev := atomic.SwapInt64(&s.lastCapture, now.UnixNano())
	if prev == 0 {
		return
	}
	dt := time.Duration(now.UnixNano() - prev)
	if dt <= 0 {
		return
	}
	instant := float64(time.Second) / float64(dt)
	old := math.Float64frombits(atomic.LoadUint64(&s.fpsBits))
	smoothed := instant
	if old > 0 {
		smoothed = old*0.9 + instant*0.1
	}
	atomic.StoreUint64(&s.fpsBits, math.Float64bits(smoothed))
}

// RecordBroadcast counts one frame fanned out to subscribers
func (s *Stats) RecordBroadcast() {
	atomic.AddUint64(&s.broadcast, 1)
}

// RecordEncodeError counts one skipped frame due to an encode failure
func (s *Stats) RecordEncodeError() {
	atomic.AddUint64(&s.encodeErrors, 1)
}

// Snapshot is a point-in-time view of the counters
type Snapshot struct {
	Captured     uint64
	Broadcast    uint64
	EncodeErrors uint64
	FPS          float64
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Captured:     atomic.LoadUint64(&s.captured),
		Broadcast:    atomic.LoadUint64(&s.broadcast),
		EncodeErrors: atomic.LoadUint64(&s.encodeErrors),
		FPS:          math.Float64frombits(atomic.LoadUint64(&s.fpsBits)),
	}
}
