// Package source provides the frame source backends: a V4L2 camera, a
// synthetic test-pattern generator, and a frame-log replayer. All of them
// implement pipeline.Source.
package source

import (
	"errors"
	"fmt"

	"github.com/astromech-labs/droidvision/internal/config"
	"github.com/astromech-labs/droidvision/internal/pipeline"
)

var (
	// ErrDeviceUnavailable means the underlying device could not be acquired
	// (absent, busy, or permission denied). Fatal to the pipeline instance.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrCaptureTimeout means no frame arrived within the bounded wait.
	// Transient; callers retry.
	ErrCaptureTimeout = errors.New("capture timeout")
)

// New builds the configured frame source
func New(cfg config.Config) (pipeline.Source, error) {
	switch cfg.Source {
	case config.SourceV4L2:
		return NewV4L2(cfg.Device, cfg.Width, cfg.Height)
	case config.SourceSynthetic:
		return NewSynthetic(cfg.Width, cfg.Height, cfg.CaptureFPS), nil
	case config.SourceReplay:
		return NewReplay(cfg.ReplayPath, cfg.ReplayLoop), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}
