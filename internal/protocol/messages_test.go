package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNormalizeKind(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", KindVideoFrame, false},
		{"video_frame", KindVideoFrame, false},
		{"vision_data", KindVisionData, false},
		{"character_vision_data", KindCharacterVisionData, false},
		{"hologram", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeKind(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeKind(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeKind(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeKind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVideoFrameOptionalFieldsOmitted(t *testing.T) {
	msg := VideoFrame{
		Type:          TypeVideoFrame,
		SchemaVersion: SchemaVersion,
		Kind:          KindVideoFrame,
		Frame:         "AAAA",
		Seq:           1,
		Timestamp:     time.Now(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "detections") {
		t.Error("empty detections not omitted")
	}
	if strings.Contains(s, "\"stats\"") {
		t.Error("nil stats not omitted")
	}
}

func TestVideoFrameCarriesDetections(t *testing.T) {
	msg := VideoFrame{
		Type: TypeVideoFrame,
		Detections: []Detection{
			{Class: "person", Confidence: 0.87, BBox: [4]float64{10, 20, 110, 220}},
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded VideoFrame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(decoded.Detections) != 1 {
		t.Fatalf("lost detections: %+v", decoded)
	}
	d := decoded.Detections[0]
	if d.Class != "person" || d.Confidence != 0.87 || d.BBox != [4]float64{10, 20, 110, 220} {
		t.Errorf("detection mangled: %+v", d)
	}
}
