//go:build linux

package source

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackjack/webcam"

	"github.com/astromech-labs/droidvision/internal/logger"
	"github.com/astromech-labs/droidvision/internal/pipeline"
)

// V4L2 pixel format FourCCs
const (
	fmtMJPG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)
	fmtYUYV = webcam.PixelFormat(uint32('Y') | uint32('U')<<8 | uint32('Y')<<16 | uint32('V')<<24)
)

// readTimeoutSec bounds WaitForFrame so a wedged driver cannot stall the
// capture goroutine indefinitely
const readTimeoutSec = 1

// V4L2 reads frames from a Video4Linux camera via the webcam package
type V4L2 struct {
	device string
	width  int
	height int

	cam    *webcam.Webcam
	format webcam.PixelFormat
}

// NewV4L2 creates a camera source for the given device node
func NewV4L2(device string, width, height int) (*V4L2, error) {
	if device == "" {
		device = "/dev/video0"
	}
	return &V4L2{
		device: device,
		width:  width,
		height: height,
	}, nil
}

// Name returns the backend name with the device node
func (v *V4L2) Name() string {
	return "v4l2:" + v.device
}

// Open acquires the device and starts streaming. MJPG is preferred over YUYV
// because it keeps USB bandwidth down on the droid's internal hub.
func (v *V4L2) Open() error {
	cam, err := webcam.Open(v.device)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, v.device, err)
	}

	format, ok := pickFormat(cam.GetSupportedFormats())
	if !ok {
		_ = cam.Close()
		return fmt.Errorf("%w: %s supports neither MJPG nor YUYV", ErrDeviceUnavailable, v.device)
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(v.width), uint32(v.height))
	if err != nil {
		_ = cam.Close()
		return fmt.Errorf("%w: failed to set %dx%d: %v", ErrDeviceUnavailable, v.width, v.height, err)
	}
	v.width, v.height = int(w), int(h)

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return fmt.Errorf("%w: failed to start streaming: %v", ErrDeviceUnavailable, err)
	}

	v.cam = cam
	v.format = format
	logger.WithComponent("source").Info().
		Str("device", v.device).
		Int("width", v.width).
		Int("height", v.height).
		Str("format", fourcc(format)).
		Msg("Camera opened")
	return nil
}

// Close stops streaming and releases the device
func (v *V4L2) Close() error {
	if v.cam == nil {
		return nil
	}
	cam := v.cam
	v.cam = nil
	if err := cam.StopStreaming(); err != nil {
		_ = cam.Close()
		return err
	}
	return cam.Close()
}

// ReadFrame blocks for up to the bounded hardware wait and returns one frame
func (v *V4L2) ReadFrame() (*pipeline.Frame, error) {
	if v.cam == nil {
		return nil, fmt.Errorf("camera not open: %w", ErrDeviceUnavailable)
	}

	err := v.cam.WaitForFrame(readTimeoutSec)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, fmt.Errorf("%w: no frame within %ds", ErrCaptureTimeout, readTimeoutSec)
	default:
		return nil, fmt.Errorf("wait for frame: %w", err)
	}

	raw, err := v.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCaptureTimeout)
	}

	// The buffer is re-queued to the driver after ReadFrame returns, so the
	// pixels must be decoded or copied before the next read.
	img, err := v.decode(raw)
	if err != nil {
		return nil, err
	}

	return &pipeline.Frame{
		Image:     img,
		Timestamp: time.Now(),
	}, nil
}

func (v *V4L2) decode(raw []byte) (*image.RGBA, error) {
	switch v.format {
	case fmtMJPG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode MJPG frame: %w", err)
		}
		if rgba, ok := img.(*image.RGBA); ok {
			return rgba, nil
		}
		bounds := img.Bounds()
		rgba := image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
		return rgba, nil
	case fmtYUYV:
		return yuyvToRGBA(raw, v.width, v.height)
	}
	return nil, fmt.Errorf("unsupported pixel format %s", fourcc(v.format))
}

// yuyvToRGBA converts packed YUYV 4:2:2 to RGBA
func yuyvToRGBA(raw []byte, width, height int) (*image.RGBA, error) {
	if len(raw) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: got %d bytes, want %d", len(raw), width*height*2)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 2 {
			i := (y*width + x) * 2
			y0, u, y1, vv := raw[i], raw[i+1], raw[i+2], raw[i+3]
			setYUV(img, x, y, y0, u, vv)
			if x+1 < width {
				setYUV(img, x+1, y, y1, u, vv)
			}
		}
	}
	return img, nil
}

func setYUV(img *image.RGBA, x, y int, yy, u, v byte) {
	c := float64(yy) - 16
	d := float64(u) - 128
	e := float64(v) - 128
	r := clamp(1.164*c + 1.596*e)
	g := clamp(1.164*c - 0.392*d - 0.813*e)
	b := clamp(1.164*c + 2.017*d)
	off := img.PixOffset(x, y)
	img.Pix[off+0] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
	img.Pix[off+3] = 255
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func pickFormat(supported map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	if _, ok := supported[fmtMJPG]; ok {
		return fmtMJPG, true
	}
	if _, ok := supported[fmtYUYV]; ok {
		return fmtYUYV, true
	}
	return 0, false
}

func fourcc(f webcam.PixelFormat) string {
	v := uint32(f)
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
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

// Enumerate lists /dev/video* devices and their supported formats. Devices
// that cannot be opened are skipped.
func Enumerate() ([]DeviceInfo, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(nodes)

	var out []DeviceInfo
	for _, node := range nodes {
		cam, err := webcam.Open(node)
		if err != nil {
			continue
		}
		info := DeviceInfo{Path: node}
		for format, desc := range cam.GetSupportedFormats() {
			fi := FormatInfo{FourCC: fourcc(format), Description: desc}
			for _, size := range cam.GetSupportedFrameSizes(format) {
				fi.Sizes = append(fi.Sizes, size.GetString())
			}
			info.Formats = append(info.Formats, fi)
		}
		sort.Slice(info.Formats, func(i, j int) bool {
			return info.Formats[i].FourCC < info.Formats[j].FourCC
		})
		_ = cam.Close()
		out = append(out, info)
	}
	return out, nil
}
