package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromech-labs/droidvision/internal/broadcast"
	"github.com/astromech-labs/droidvision/internal/config"
	"github.com/astromech-labs/droidvision/internal/pipeline"
	"github.com/astromech-labs/droidvision/internal/protocol"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, *broadcast.Registry) {
	t.Helper()
	buf, err := pipeline.NewBuffer(1)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	registry := broadcast.NewRegistry()
	bc := broadcast.New(buf, pipeline.NewStats(), registry, func() bool { return true }, broadcast.Options{})
	return NewServer(cfg, registry, bc, NewPreview(), "synthetic"), registry
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, *config.Defaults())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("unexpected status payload: %v", payload)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t, *config.Defaults())

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var st protocol.SystemStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.Type != protocol.TypeSystemStatus {
		t.Errorf("unexpected type %q", st.Type)
	}
	if st.Source != "synthetic" {
		t.Errorf("unexpected source %q", st.Source)
	}
	if !st.CameraActive {
		t.Error("expected camera_active true")
	}
}

func TestWebSocketHandshakeSendsConnectionStatus(t *testing.T) {
	srv, registry := newTestServer(t, *config.Defaults())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status protocol.ConnectionStatus
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("reading connection status: %v", err)
	}
	if status.Type != protocol.TypeConnectionStatus {
		t.Errorf("unexpected type %q", status.Type)
	}
	if status.SchemaVersion != protocol.SchemaVersion {
		t.Errorf("unexpected schema version %d", status.SchemaVersion)
	}
	if !status.Capabilities.Video || !status.Capabilities.Heartbeat {
		t.Errorf("unexpected capabilities: %+v", status.Capabilities)
	}
	if registry.Len() != 1 {
		t.Errorf("registry has %d subscribers, want 1", registry.Len())
	}
}

func TestWebSocketDisconnectRemovesSubscriber(t *testing.T) {
	srv, registry := newTestServer(t, *config.Defaults())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()

	deadline := time.After(2 * time.Second)
	for registry.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("subscriber not removed after disconnect, registry=%d", registry.Len())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestWebSocketAuthToken(t *testing.T) {
	cfg := *config.Defaults()
	cfg.AuthToken = "beep-boop"
	srv, _ := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil); err == nil {
		t.Fatal("expected dial without token to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws?token=beep-boop"), nil)
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	conn.Close()
}

func TestIndexListsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, *config.Defaults())

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, endpoint := range []string{"/ws", "/stream", "/status", "/metrics"} {
		if !strings.Contains(body, endpoint) {
			t.Errorf("index missing %s", endpoint)
		}
	}
}
