package chat

import (
	"context"
	"time"

	"roomcast/internal/app/storage"
	"roomcast/internal/app/user"
)

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Membership is a durable room membership record.
type Membership struct {
	RoomID   int64
	Identity string
	IsOwner  bool
	JoinedAt time.Time
}

// RoomMeta is the durable metadata of a room the core needs for events and notifications.
type RoomMeta struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

// Message is an immutable, persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	Author    string
	Body      string
	Type      MessageType
	File      *FileDescriptor
	CreatedAt time.Time
}

// NewMessage is the input for persisting a message.
type NewMessage struct {
	RoomID int64
	Author string
	Body   string
	Type   MessageType
	File   *FileDescriptor
}

// Store is the durable collaborator consulted by the engine.
// A missing membership or room is reported with found == false and a nil error.
type Store interface {
	GetMembership(ctx context.Context, identity string, roomID int64) (Membership, bool, error)
	GetRoomMeta(ctx context.Context, roomID int64) (RoomMeta, bool, error)
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	GetUserProfile(ctx context.Context, identity string) (user.Profile, error)
}

// ObjectStatter reports metadata of stored attachments.
type ObjectStatter interface {
	StatObject(ctx context.Context, key string) (storage.ObjectInfo, error)
}

// Notice describes one persisted message for the notification path.
type Notice struct {
	Message Message
	Sender  user.Profile
	Room    RoomMeta
}

// Notifier receives every persisted message. Notify must not block the caller.
type Notifier interface {
	Notify(notice Notice)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
