/*
Package chat contains the real-time core of the service: the connection registry,
room presence, typing state, and the engine that turns client commands into
room broadcasts, persisted messages, and notification hand-offs.

All state in this package is process-local and starts empty.
*/
package chat

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcast/internal/pkg/logx"
)

var (
	// ErrSendQueueFull is returned by Conn.Send when the outbound queue has no room.
	ErrSendQueueFull = errors.New("chat: send queue full")

	// ErrConnClosed is returned by Conn.Send after the connection was closed.
	ErrConnClosed = errors.New("chat: connection closed")
)

// Conn is a live client connection as seen by the core.
type Conn interface {
	ID() uuid.UUID
	Identity() string
	ConnectedAt() time.Time

	// Send queues a frame without blocking.
	Send(frame []byte) error

	// Close ends the connection with a WebSocket close code. Safe to call repeatedly.
	Close(code int, reason string)
}

// Registry maps each identity to its single live connection. The latest
// registration wins.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	presence *Presence
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry that resolves room audiences through presence.
func NewRegistry(presence *Presence) *Registry {
	return &Registry{
		conns:    make(map[string]Conn),
		presence: presence,
		logger:   logx.Component("registry"),
	}
}

// Register records conn for its identity and returns the connection it replaced, if any.
// The replaced connection is not closed.
func (r *Registry) Register(conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.conns[conn.Identity()]
	r.conns[conn.Identity()] = conn

	return previous
}

// Unregister forgets identity's connection. Idempotent.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, identity)
}

// UnregisterIf forgets identity's connection only if it is connID.
func (r *Registry) UnregisterIf(identity string, connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[identity]
	if !ok || current.ID() != connID {
		return false
	}
	delete(r.conns, identity)

	return true
}

// Get returns identity's live connection.
func (r *Registry) Get(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[identity]
	return conn, ok
}

// IsCurrent reports whether conn is the registered connection of its identity.
func (r *Registry) IsCurrent(conn Conn) bool {
	current, ok := r.Get(conn.Identity())
	return ok && current.ID() == conn.ID()
}

// ListOnline returns every identity with a registered connection, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		out = append(out, identity)
	}
	slices.Sort(out)

	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// CloseAll closes every registered connection. Cleanup runs through each connection's own disconnect path.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Close(code, reason)
	}
}

// Broadcast sends an event to every connection present in roomID.
func (r *Registry) Broadcast(roomID int64, eventType EventType, payload any) error {
	return r.BroadcastExcept(roomID, "", eventType, payload)
}

// BroadcastExcept sends an event to every connection present in roomID except skip's.
func (r *Registry) BroadcastExcept(roomID int64, skip string, eventType EventType, payload any) error {
	return r.BroadcastTo(r.presence.PresentMembers(roomID), skip, roomID, eventType, payload)
}

// BroadcastTo sends an event to the listed identities except skip. The frame
// is encoded once. Identities without a connection are skipped.
func (r *Registry) BroadcastTo(identities []string, skip string, roomID int64, eventType EventType, payload any) error {
	frame, err := NewFrame(eventType, roomID, payload)
	if err != nil {
		return err
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(identities))
	for _, identity := range identities {
		if identity == skip {
			continue
		}
		if conn, ok := r.conns[identity]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.deliver(conn, frame)
	}

	return nil
}

// SendEvent sends a private event to one connection.
func (r *Registry) SendEvent(conn Conn, roomID int64, eventType EventType, payload any) error {
	frame, err := NewFrame(eventType, roomID, payload)
	if err != nil {
		return err
	}

	r.deliver(conn, frame)
	return nil
}

// deliver closes connections that cannot keep up; their read loop then runs the disconnect cleanup.
func (r *Registry) deliver(conn Conn, frame []byte) {
	err := conn.Send(frame)
	switch {
	case err == nil, errors.Is(err, ErrConnClosed):
	case errors.Is(err, ErrSendQueueFull):
		r.logger.Warn().
			Str("identity", conn.Identity()).
			Str("conn_id", conn.ID().String()).
			Msg("Send queue full, closing slow consumer.")
		conn.Close(websocket.CloseTryAgainLater, "slow consumer")
	default:
		r.logger.Error().Err(err).Str("identity", conn.Identity()).Msg("Failed to queue frame")
	}
}
