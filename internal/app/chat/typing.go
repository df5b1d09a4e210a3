package chat

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"roomcast/internal/pkg/logx"
)

// Typing holds the last typing signal received per room. There is no server
// side expiry; clients send typing_stop after inactivity.
type Typing struct {
	mu     sync.Mutex
	typers map[int64]map[string]struct{}
	fanout *Registry
	logger zerolog.Logger
}

// NewTyping returns a tracker that announces changes through registry.
func NewTyping(registry *Registry) *Typing {
	return &Typing{
		typers: make(map[int64]map[string]struct{}),
		fanout: registry,
		logger: logx.Component("typing"),
	}
}

// Start marks identity as typing in roomID and tells the other present members.
func (t *Typing) Start(identity string, roomID int64) {
	t.mu.Lock()
	set, ok := t.typers[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.typers[roomID] = set
	}
	set[identity] = struct{}{}
	t.mu.Unlock()

	t.announce(identity, roomID, true)
}

// Stop clears identity's typing state in roomID and tells the other present members.
func (t *Typing) Stop(identity string, roomID int64) {
	t.Clear(identity, roomID)
	t.announce(identity, roomID, false)
}

func (t *Typing) announce(identity string, roomID int64, isTyping bool) {
	payload := TypingPayload{UserID: identity, IsTyping: isTyping}
	if err := t.fanout.BroadcastExcept(roomID, identity, EventTypingIndicator, payload); err != nil {
		t.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to broadcast typing indicator")
	}
}

// Clear removes identity from roomID's typing set without announcing it.
func (t *Typing) Clear(identity string, roomID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearLocked(identity, roomID)
}

func (t *Typing) clearLocked(identity string, roomID int64) {
	set, ok := t.typers[roomID]
	if !ok {
		return
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(t.typers, roomID)
	}
}

// DropIdentity silently clears identity from every room's typing set.
func (t *Typing) DropIdentity(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for roomID := range t.typers {
		t.clearLocked(identity, roomID)
	}
}

// Typers returns the identities currently typing in roomID, sorted.
func (t *Typing) Typers(roomID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.typers[roomID]))
	for identity := range t.typers[roomID] {
		out = append(out, identity)
	}
	slices.Sort(out)

	return out
}
