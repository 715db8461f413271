package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/astromech-labs/droidvision/internal/encoder"
	"github.com/astromech-labs/droidvision/internal/logger"
)

// Preview serves the encoded frame stream as Motion JPEG so a browser on the
// droid's network can eyeball the camera without a websocket client.
type Preview struct {
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// NewPreview creates an MJPEG preview with no clients
func NewPreview() *Preview {
	return &Preview{
		clients: make(map[chan []byte]struct{}),
	}
}

// Push fans an encoded frame out to connected preview clients. Slow clients
// skip frames rather than stalling the broadcast loop.
func (p *Preview) Push(ef *encoder.EncodedFrame) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for ch := range p.clients {
		select {
		case ch <- ef.Data:
		default:
		}
	}
}

// CloseAll disconnects every preview client
func (p *Preview) CloseAll() {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	for ch := range p.clients {
		close(ch)
	}
	p.clients = make(map[chan []byte]struct{})
}

// Handler returns the multipart/x-mixed-replace stream handler
func (p *Preview) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		p.clientsMu.Lock()
		p.clients[frameChan] = struct{}{}
		count := len(p.clients)
		p.clientsMu.Unlock()
		logger.WithComponent("preview").Info().Int("total", count).Msg("Preview client connected")

		defer func() {
			p.clientsMu.Lock()
			delete(p.clients, frameChan)
			count := len(p.clients)
			p.clientsMu.Unlock()
			logger.WithComponent("preview").Info().Int("remaining", count).Msg("Preview client disconnected")
		}()

		for jpegData := range frameChan {
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
