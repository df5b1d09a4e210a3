package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"roomcast/internal/app/storage"
	"roomcast/internal/app/user"
)

// --- Test doubles ---

type fakeConn struct {
	id       uuid.UUID
	identity string

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	full      bool
}

func newFakeConn(identity string) *fakeConn {
	return &fakeConn{id: uuid.New(), identity: identity}
}

func (c *fakeConn) ID() uuid.UUID          { return c.id }
func (c *fakeConn) Identity() string       { return c.identity }
func (c *fakeConn) ConnectedAt() time.Time { return time.Time{} }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if c.full {
		return ErrSendQueueFull
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
}

type recordedEvent struct {
	Type      EventType       `json:"type"`
	RoomID    int64           `json:"roomId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *fakeConn) events(t *testing.T) []recordedEvent {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]recordedEvent, 0, len(c.frames))
	for _, frame := range c.frames {
		var ev recordedEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("undecodable frame %s: %v", frame, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) eventsOf(t *testing.T, eventType EventType) []recordedEvent {
	t.Helper()

	var out []recordedEvent
	for _, ev := range c.events(t) {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func decodePayload[T any](t *testing.T, ev recordedEvent) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return out
}

type fakeStore struct {
	mu        sync.Mutex
	members   map[int64]map[string]bool
	rooms     map[int64]RoomMeta
	profiles  map[string]user.Profile
	messages  []Message
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:  make(map[int64]map[string]bool),
		rooms:    make(map[int64]RoomMeta),
		profiles: make(map[string]user.Profile),
	}
}

func (s *fakeStore) addRoom(roomID int64, name string, identities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[roomID] = RoomMeta{ID: roomID, Name: name}
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]bool)
	}
	for _, identity := range identities {
		s.members[roomID][identity] = true
		s.profiles[identity] = user.Profile{ID: identity, DisplayName: "User " + identity}
	}
}

func (s *fakeStore) GetMembership(_ context.Context, identity string, roomID int64) (Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.members[roomID][identity] {
		return Membership{}, false, nil
	}
	return Membership{RoomID: roomID, Identity: identity}, true, nil
}

func (s *fakeStore) GetRoomMeta(_ context.Context, roomID int64) (RoomMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.rooms[roomID]
	return meta, ok, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg NewMessage) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return Message{}, s.createErr
	}

	stored := Message{
		ID:        int64(len(s.messages) + 1),
		RoomID:    msg.RoomID,
		Author:    msg.Author,
		Body:      msg.Body,
		Type:      msg.Type,
		File:      msg.File,
		CreatedAt: time.Unix(1700000000, 0),
	}
	s.messages = append(s.messages, stored)
	return stored, nil
}

func (s *fakeStore) GetUserProfile(_ context.Context, identity string) (user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[identity]
	if !ok {
		return user.Profile{}, errors.New("no such user")
	}
	return profile, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *fakeNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type fakeBlobs struct {
	objects map[string]storage.ObjectInfo
	err     error
}

func (b *fakeBlobs) StatObject(_ context.Context, key string) (storage.ObjectInfo, error) {
	if b.err != nil {
		return storage.ObjectInfo{}, b.err
	}
	info, ok := b.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return info, nil
}

// --- Setup ---

type testEnv struct {
	store    *fakeStore
	notifier *fakeNotifier
	blobs    *fakeBlobs
	presence *Presence
	registry *Registry
	typing   *Typing
	engine   *Engine
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		blobs:    &fakeBlobs{objects: make(map[string]storage.ObjectInfo)},
		presence: NewPresence(),
	}
	env.registry = NewRegistry(env.presence)
	env.typing = NewTyping(env.registry)
	env.engine = NewEngine(EngineConfig{
		Store:        env.store,
		Blobs:        env.blobs,
		Notifier:     env.notifier,
		Registry:     env.registry,
		Presence:     env.presence,
		Typing:       env.typing,
		StoreTimeout: time.Second,
	})
	return env
}

func (env *testEnv) connect(identity string) *fakeConn {
	conn := newFakeConn(identity)
	env.engine.Admit(conn)
	return conn
}

func (env *testEnv) join(t *testing.T, conn *fakeConn, roomID int64) {
	t.Helper()
	if err := env.engine.JoinRoom(context.Background(), conn, roomID); err != nil {
		t.Fatalf("JoinRoom(%s, %d) failed: %v", conn.identity, roomID, err)
	}
}
