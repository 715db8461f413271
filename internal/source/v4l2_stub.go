//go:build !linux

package source

import (
	"fmt"

	"github.com/astromech-labs/droidvision/internal/pipeline"
)

// V4L2 is unavailable off Linux; the synthetic source covers development on
// other platforms.
type V4L2 struct {
	device string
}

// NewV4L2 creates a stub that fails on Open
func NewV4L2(device string, width, height int) (*V4L2, error) {
	return &V4L2{device: device}, nil
}

// Name returns the backend name with the device node
func (v *V4L2) Name() string {
	return "v4l2:" + v.device
}

// Open always fails off Linux
func (v *V4L2) Open() error {
	return fmt.Errorf("%w: v4l2 capture requires linux", ErrDeviceUnavailable)
}

// Close is a no-op
func (v *V4L2) Close() error {
	return nil
}

// ReadFrame always fails off Linux
func (v *V4L2) ReadFrame() (*pipeline.Frame, error) {
	return nil, fmt.Errorf("%w: v4l2 capture requires linux", ErrDeviceUnavailable)
}

// DeviceInfo describes one enumerated camera
type DeviceInfo struct {
	Path    string
	Formats []FormatInfo
}

// FormatInfo is one supported pixel format with its frame sizes
type FormatInfo struct {
	FourCC      string
	Description string
	Sizes       []string
}

// Enumerate is unavailable off Linux
func Enumerate() ([]DeviceInfo, error) {
	return nil, fmt.Errorf("device enumeration requires linux")
}
