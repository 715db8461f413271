package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ConnState tracks the per-connection lifecycle:
// CONNECTING -> CONNECTED -> CLOSING -> CLOSED
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateClosing
	StateClosed
)

// Conn is the subset of *websocket.Conn the registry needs. Narrowed to an
// interface so broadcast paths are testable without a network.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscriber is one connected client. Writes are serialized by a per-conn
// mutex because gorilla conns do not support concurrent writers.
type Subscriber struct {
	ID   string
	conn Conn

	writeMu sync.Mutex

	mu    sync.Mutex
	state ConnState
}

// Send writes a text payload under the write deadline
func (s *Subscriber) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping writes a ping control frame under the write deadline
func (s *Subscriber) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// State returns the current lifecycle state
func (s *Subscriber) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Registry is the set of currently connected subscribers. Mutations happen on
// connect/disconnect; broadcast passes iterate a snapshot, never the live map.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]*Subscriber),
	}
}

// Add registers a connection and returns its subscriber handle
func (r *Registry) Add(conn Conn) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.NewString(),
		conn:  conn,
		state: StateConnecting,
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	sub.setState(StateConnected)
	return sub
}

// Remove closes and drops a subscriber. Removing an ID that is already gone
// is a no-op, so disconnect paths can race without double-counting.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	sub.setState(StateClosing)
	_ = sub.conn.Close()
	sub.setState(StateClosed)
	return true
}

// Snapshot returns a copy of the current subscriber set for iteration
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of connected subscribers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll removes every subscriber; used during shutdown
func (r *Registry) CloseAll() {
	for _, sub := range r.Snapshot() {
		r.Remove(sub.ID)
	}
}
