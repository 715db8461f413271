package broadcast

import (
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/astromech-labs/droidvision/internal/pipeline"
	"github.com/astromech-labs/droidvision/internal/protocol"
)

func newTestBroadcaster(t *testing.T, active bool) (*Broadcaster, *pipeline.Buffer, *Registry) {
	t.Helper()
	buf, err := pipeline.NewBuffer(2)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	registry := NewRegistry()
	bc := New(buf, pipeline.NewStats(), registry, func() bool { return active }, Options{
		TargetFPS:   30,
		TakeTimeout: 10 * time.Millisecond,
		Quality:     70,
	})
	return bc, buf, registry
}

func offerTestFrame(buf *pipeline.Buffer, seq uint64) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	buf.Offer(&pipeline.Frame{Image: img, Seq: seq, Timestamp: time.Now()})
}

func TestBroadcastDeliversFrameToAllSubscribers(t *testing.T) {
	bc, buf, registry := newTestBroadcaster(t, true)

	c1, c2 := &fakeConn{}, &fakeConn{}
	registry.Add(c1)
	registry.Add(c2)

	offerTestFrame(buf, 1)
	bc.broadcastOnce()

	for i, c := range []*fakeConn{c1, c2} {
		msgs := c.received()
		if len(msgs) != 1 {
			t.Fatalf("subscriber %d received %d messages, want 1", i, len(msgs))
		}
		var vf protocol.VideoFrame
		if err := json.Unmarshal(msgs[0], &vf); err != nil {
			t.Fatalf("subscriber %d payload not valid JSON: %v", i, err)
		}
		if vf.Type != protocol.TypeVideoFrame {
			t.Errorf("wrong type %q", vf.Type)
		}
		if vf.Kind != protocol.KindVideoFrame {
			t.Errorf("wrong kind %q", vf.Kind)
		}
		if vf.Seq != 1 || vf.Frame == "" {
			t.Errorf("frame payload incomplete: seq=%d empty=%v", vf.Seq, vf.Frame == "")
		}
		if vf.SchemaVersion != protocol.SchemaVersion {
			t.Errorf("wrong schema version %d", vf.SchemaVersion)
		}
	}
}

func TestBroadcastRemovesFailedSubscriberAfterPass(t *testing.T) {
	bc, buf, registry := newTestBroadcaster(t, true)

	healthy := &fakeConn{}
	broken := &fakeConn{}
	broken.fail()
	registry.Add(healthy)
	registry.Add(broken)

	offerTestFrame(buf, 1)
	bc.broadcastOnce()

	// The surviving subscriber still got this cycle's frame
	if got := len(healthy.received()); got != 1 {
		t.Errorf("healthy subscriber received %d messages, want 1", got)
	}
	if registry.Len() != 1 {
		t.Errorf("registry has %d subscribers, want 1", registry.Len())
	}
}

func TestBroadcastSkipsCycleOnEmptyBuffer(t *testing.T) {
	bc, _, registry := newTestBroadcaster(t, true)
	conn := &fakeConn{}
	registry.Add(conn)

	bc.broadcastOnce()

	if got := len(conn.received()); got != 0 {
		t.Errorf("expected no messages on empty buffer, got %d", got)
	}
}

func TestHeartbeatReportsCameraDown(t *testing.T) {
	bc, _, registry := newTestBroadcaster(t, false)
	conn := &fakeConn{}
	registry.Add(conn)

	bc.sendHeartbeat()

	msgs := conn.received()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msgs[0], &hb); err != nil {
		t.Fatalf("heartbeat not valid JSON: %v", err)
	}
	if hb.Type != protocol.TypeHeartbeat {
		t.Errorf("wrong type %q", hb.Type)
	}
	if hb.CameraActive {
		t.Error("heartbeat reports camera_active true for a dead capture loop")
	}
	if hb.Subscribers != 1 {
		t.Errorf("heartbeat subscriber count %d, want 1", hb.Subscribers)
	}
}

func TestHeartbeatContinuesAfterSourceDeath(t *testing.T) {
	// Empty buffer forever, camera down: frames stop but heartbeats keep
	// flowing so the client sees degradation rather than a dropped connection.
	bc, _, registry := newTestBroadcaster(t, false)
	conn := &fakeConn{}
	registry.Add(conn)

	bc.broadcastOnce()
	bc.sendHeartbeat()
	bc.broadcastOnce()
	bc.sendHeartbeat()

	msgs := conn.received()
	if len(msgs) != 2 {
		t.Fatalf("received %d messages, want 2 heartbeats", len(msgs))
	}
	for _, raw := range msgs {
		var hb protocol.Heartbeat
		if err := json.Unmarshal(raw, &hb); err != nil || hb.Type != protocol.TypeHeartbeat {
			t.Errorf("expected heartbeat, got %s", raw)
		}
	}
}

func TestBroadcastAppliesProcessors(t *testing.T) {
	bc, buf, registry := newTestBroadcaster(t, true)
	conn := &fakeConn{}
	registry.Add(conn)

	bc.AddProcessor(stubProcessor{})

	offerTestFrame(buf, 5)
	bc.broadcastOnce()

	msgs := conn.received()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	var vf protocol.VideoFrame
	if err := json.Unmarshal(msgs[0], &vf); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if len(vf.Detections) != 1 || vf.Detections[0].Class != "astromech" {
		t.Errorf("processor detections not carried onto the wire: %+v", vf.Detections)
	}
}

type stubProcessor struct{}

func (stubProcessor) Name() string { return "stub" }

func (stubProcessor) Process(f *pipeline.Frame) error {
	f.Detections = append(f.Detections, pipeline.Detection{
		Class:      "astromech",
		Confidence: 0.99,
		BBox:       [4]float64{1, 2, 3, 4},
	})
	return nil
}

func TestStatusSnapshot(t *testing.T) {
	bc, buf, registry := newTestBroadcaster(t, true)
	registry.Add(&fakeConn{})

	offerTestFrame(buf, 1)
	bc.broadcastOnce()

	st := bc.Status("synthetic")
	if st.Type != protocol.TypeSystemStatus {
		t.Errorf("wrong type %q", st.Type)
	}
	if !st.CameraActive || st.Subscribers != 1 || st.Source != "synthetic" {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Stats == nil {
		t.Fatal("status missing stats")
	}
}
