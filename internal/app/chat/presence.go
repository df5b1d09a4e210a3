package chat

import (
	"slices"
	"sync"
)

// Presence tracks which identities have joined which rooms on this process.
// Both directions live under one lock so a member snapshot never observes
// a half-removed identity.
type Presence struct {
	mu     sync.RWMutex
	rooms  map[int64]map[string]struct{}
	joined map[string]map[int64]struct{}
}

// NewPresence returns an empty tracker.
func NewPresence() *Presence {
	return &Presence{
		rooms:  make(map[int64]map[string]struct{}),
		joined: make(map[string]map[int64]struct{}),
	}
}

// Join adds identity to roomID. It reports whether the identity was newly added.
func (p *Presence) Join(identity string, roomID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		p.rooms[roomID] = members
	}
	if _, exists := members[identity]; exists {
		return false
	}
	members[identity] = struct{}{}

	rooms, ok := p.joined[identity]
	if !ok {
		rooms = make(map[int64]struct{})
		p.joined[identity] = rooms
	}
	rooms[roomID] = struct{}{}

	return true
}

// Leave removes identity from roomID. It reports whether the identity was present.
func (p *Presence) Leave(identity string, roomID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.removeLocked(identity, roomID)
}

func (p *Presence) removeLocked(identity string, roomID int64) bool {
	members, ok := p.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[identity]; !exists {
		return false
	}

	delete(members, identity)
	if len(members) == 0 {
		delete(p.rooms, roomID)
	}

	if rooms, ok := p.joined[identity]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(p.joined, identity)
		}
	}

	return true
}

// PresentMembers returns the identities present in roomID, sorted.
func (p *Presence) PresentMembers(roomID int64) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := p.rooms[roomID]
	out := make([]string, 0, len(members))
	for identity := range members {
		out = append(out, identity)
	}
	slices.Sort(out)

	return out
}

// IsPresent reports whether identity has joined roomID.
func (p *Presence) IsPresent(identity string, roomID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.rooms[roomID][identity]
	return ok
}

// JoinedRooms returns the rooms identity is present in, sorted.
func (p *Presence) JoinedRooms(identity string) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rooms := p.joined[identity]
	out := make([]int64, 0, len(rooms))
	for roomID := range rooms {
		out = append(out, roomID)
	}
	slices.Sort(out)

	return out
}

// DropIdentity removes identity from every room and returns the rooms it was in.
func (p *Presence) DropIdentity(identity string) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	rooms := make([]int64, 0, len(p.joined[identity]))
	for roomID := range p.joined[identity] {
		rooms = append(rooms, roomID)
	}
	slices.Sort(rooms)

	for _, roomID := range rooms {
		p.removeLocked(identity, roomID)
	}

	return rooms
}
