// Package protocol defines the JSON messages exchanged with websocket
// subscribers. Every message carries a type tag and a schema version so
// consumers can gate on optional fields.
package protocol

import (
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever a message shape changes incompatibly
const SchemaVersion = 1

// Message type tags
const (
	TypeConnectionStatus = "connection_status"
	TypeVideoFrame       = "video_frame"
	TypeHeartbeat        = "heartbeat"
	TypeSystemStatus     = "system_status"
)

// Legacy frame kinds kept as wire-compatibility aliases. They select the
// value of the "kind" field only; the message shape is always VideoFrame.
const (
	KindVideoFrame          = "video_frame"
	KindVisionData          = "vision_data"
	KindCharacterVisionData = "character_vision_data"
)

// NormalizeKind maps a configured frame kind (including legacy aliases) to
// the tag written on the wire. An empty kind means the default.
func NormalizeKind(kind string) (string, error) {
	switch kind {
	case "", KindVideoFrame:
		return KindVideoFrame, nil
	case KindVisionData, KindCharacterVisionData:
		return kind, nil
	}
	return "", fmt.Errorf("unknown frame kind %q", kind)
}

// ConnectionStatus is sent once when a subscriber connects
type ConnectionStatus struct {
	Type          string       `json:"type"`
	SchemaVersion int          `json:"schema_version"`
	Message       string       `json:"message"`
	Capabilities  Capabilities `json:"capabilities"`
}

// Capabilities advertises what this server instance emits
type Capabilities struct {
	Video      bool `json:"video"`
	Detections bool `json:"detections"`
	Heartbeat  bool `json:"heartbeat"`
}

// VideoFrame carries one encoded frame. Detections and Stats are optional.
type VideoFrame struct {
	Type          string       `json:"type"`
	SchemaVersion int          `json:"schema_version"`
	Kind          string       `json:"kind"`
	Frame         string       `json:"frame"` // base64 JPEG
	Seq           uint64       `json:"seq"`
	Timestamp     time.Time    `json:"timestamp"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	Detections    []Detection  `json:"detections,omitempty"`
	Stats         *StreamStats `json:"stats,omitempty"`
}

// Detection is one object-detection result
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// StreamStats is the rolling pipeline summary attached to frames and
// heartbeats
type StreamStats struct {
	FPS           float64 `json:"fps"`
	FramesTotal   uint64  `json:"frames_total"`
	FramesDropped uint64  `json:"frames_dropped"`
	EncodeErrors  uint64  `json:"encode_errors"`
}

// Heartbeat is the periodic liveness message. It keeps flowing even when the
// camera is down so clients see degradation, not a dropped connection.
type Heartbeat struct {
	Type          string       `json:"type"`
	SchemaVersion int          `json:"schema_version"`
	Timestamp     time.Time    `json:"timestamp"`
	CameraActive  bool         `json:"camera_active"`
	Subscribers   int          `json:"subscribers"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Stats         *StreamStats `json:"stats,omitempty"`
}

// SystemStatus is the reply shape of the /status HTTP endpoint
type SystemStatus struct {
	Type          string       `json:"type"`
	SchemaVersion int          `json:"schema_version"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	CameraActive  bool         `json:"camera_active"`
	Subscribers   int          `json:"subscribers"`
	Source        string       `json:"source"`
	Stats         *StreamStats `json:"stats,omitempty"`
}
