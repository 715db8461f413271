// Package metrics exposes the pipeline counters to prometheus. Collectors
// read the live pipeline state instead of keeping parallel counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/astromech-labs/droidvision/internal/broadcast"
	"github.com/astromech-labs/droidvision/internal/pipeline"
)

// Register installs the droidvision collectors on reg
func Register(reg prometheus.Registerer, stats *pipeline.Stats, buf *pipeline.Buffer, registry *broadcast.Registry) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "droidvision",
			Name:      "frames_captured_total",
			Help:      "Frames read from the frame source.",
		}, func() float64 { return float64(stats.Snapshot().Captured) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "droidvision",
			Name:      "frames_broadcast_total",
			Help:      "Frames fanned out to subscribers.",
		}, func() float64 { return float64(stats.Snapshot().Broadcast) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "droidvision",
			Name:      "encode_errors_total",
			Help:      "Frames skipped due to encode failures.",
		}, func() float64 { return float64(stats.Snapshot().EncodeErrors) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "droidvision",
			Name:      "frames_dropped_total",
			Help:      "Frames evicted from the buffer under capacity pressure.",
		}, func() float64 { return float64(buf.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "droidvision",
			Name:      "subscribers",
			Help:      "Currently connected websocket subscribers.",
		}, func() float64 { return float64(registry.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "droidvision",
			Name:      "capture_fps",
			Help:      "Smoothed capture rate.",
		}, func() float64 { return stats.Snapshot().FPS }),
	)
}
