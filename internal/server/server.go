package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/astromech-labs/droidvision/internal/broadcast"
	"github.com/astromech-labs/droidvision/internal/config"
	"github.com/astromech-labs/droidvision/internal/logger"
	"github.com/astromech-labs/droidvision/internal/protocol"
)

const (
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Server exposes the websocket stream plus the diagnostic HTTP surface:
// /ws, /stream (MJPEG preview), /healthz, /status and /metrics.
type Server struct {
	router   *mux.Router
	registry *broadcast.Registry
	bc       *broadcast.Broadcaster
	preview  *Preview
	cfg      config.Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	sourceName string
}

// NewServer creates the HTTP server around a running pipeline
func NewServer(cfg config.Config, registry *broadcast.Registry, bc *broadcast.Broadcaster, preview *Preview, sourceName string) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: registry,
		bc:       bc,
		preview:  preview,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			// The droid's network is trusted; browsers on it may connect freely
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:        *logger.WithComponent("server"),
		sourceName: sourceName,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/stream", s.preview.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Router exposes the configured routes for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Int("port", port).Msg("HTTP server listening")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && r.URL.Query().Get("token") != s.cfg.AuthToken {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sub := s.registry.Add(conn)
	s.log.Info().Str("subscriber", sub.ID).Int("total", s.registry.Len()).Msg("Subscriber connected")

	status := protocol.ConnectionStatus{
		Type:          protocol.TypeConnectionStatus,
		SchemaVersion: protocol.SchemaVersion,
		Message:       "connected to droidvision",
		Capabilities: protocol.Capabilities{
			Video:     true,
			Heartbeat: true,
		},
	}
	if payload, err := json.Marshal(status); err == nil {
		if err := sub.Send(payload); err != nil {
			s.registry.Remove(sub.ID)
			return
		}
	}

	go s.readLoop(conn, sub)
}

// readLoop keeps the connection's read side drained and pings the peer.
// Any read error ends the connection.
func (s *Server) readLoop(conn *websocket.Conn, sub *broadcast.Subscriber) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sub.Ping(); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)
	defer func() {
		if s.registry.Remove(sub.ID) {
			s.log.Info().Str("subscriber", sub.ID).Int("remaining", s.registry.Len()).Msg("Subscriber disconnected")
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.bc.Status(s.sourceName))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>droidvision</title></head>
<body>
  <h1>droidvision</h1>
  <ul>
    <li><a href="/stream">/stream</a> - MJPEG preview</li>
    <li><code>/ws</code> - websocket frame stream</li>
    <li><a href="/status">/status</a> - pipeline status</li>
    <li><a href="/healthz">/healthz</a> - health check</li>
    <li><a href="/metrics">/metrics</a> - prometheus metrics</li>
  </ul>
</body>
</html>`)
}
