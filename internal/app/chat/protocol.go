package chat

import (
	"bytes"
	"encoding/json"
	"time"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
)

// EventType identifies a server-to-client event.
type EventType string

const (
	EventUserJoined      EventType = "user_joined"
	EventUserLeft        EventType = "user_left"
	EventRoomJoined      EventType = "room_joined"
	EventRoomLeft        EventType = "room_left"
	EventMessageReceived EventType = "message_received"
	EventMessageSent     EventType = "message_sent"
	EventTypingIndicator EventType = "typing_indicator"
	EventError           EventType = "error"
)

// Event is the envelope of every frame written to a connection.
type Event struct {
	Type EventType `json:"type"`

	RoomID int64 `json:"roomId"`

	// Timestamp is the server time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	Payload any `json:"payload,omitempty"`
}

// UserEventPayload carries the subject of user_joined and user_left.
type UserEventPayload struct {
	User user.Profile `json:"user"`
}

// RoomJoinedPayload is the private acknowledgement of a successful join.
type RoomJoinedPayload struct {
	Room    RoomMeta `json:"room"`
	Members []string `json:"members"`
}

// MessagePayload describes a persisted message. TempID is only set on message_sent.
type MessagePayload struct {
	ID        int64           `json:"id"`
	Content   string          `json:"message"`
	Type      MessageType     `json:"messageType"`
	File      *FileDescriptor `json:"fileData,omitempty"`
	Sender    user.Profile    `json:"sender"`
	CreatedAt int64           `json:"createdAt"`
	TempID    string          `json:"tempId,omitempty"`
}

// TypingPayload is the body of typing_indicator.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is the body of the private error event.
type ErrorPayload struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Command CommandKind `json:"command,omitempty"`
}

// NewFrame encodes an event stamped with the current server time.
func NewFrame(eventType EventType, roomID int64, payload any) ([]byte, error) {
	return json.Marshal(Event{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}

// CommandKind identifies a client-to-server command.
type CommandKind string

const (
	CmdJoinRoom    CommandKind = "join_room"
	CmdLeaveRoom   CommandKind = "leave_room"
	CmdSendMessage CommandKind = "send_message"
	CmdTypingStart CommandKind = "typing_start"
	CmdTypingStop  CommandKind = "typing_stop"
)

// Command is a decoded client command. Fields other than Kind and RoomID
// are only meaningful for send_message.
type Command struct {
	Kind        CommandKind
	RoomID      int64
	Message     string
	MessageType MessageType
	File        *FileDescriptor
	TempID      string
}

type inboundFrame struct {
	Type    CommandKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type commandPayload struct {
	RoomID      *int64          `json:"roomId"`
	Message     string          `json:"message"`
	MessageType MessageType     `json:"messageType"`
	FileData    *FileDescriptor `json:"fileData"`
	TempID      string          `json:"tempId"`
}

// ParseCommand decodes a raw frame. On failure the returned Command still
// carries the Kind when it could be read, so the error can name it.
func ParseCommand(frame []byte) (Command, *errs.CustomError) {
	var in inboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		return Command{}, errs.NewError(errs.ErrInvalidJSONFormat)
	}

	cmd := Command{Kind: in.Type}

	switch in.Type {
	case CmdJoinRoom, CmdLeaveRoom, CmdSendMessage, CmdTypingStart, CmdTypingStop:
	default:
		return cmd, errs.NewError(errs.ErrUnknownCommand, string(in.Type))
	}

	raw := bytes.TrimSpace(in.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cmd, errs.NewError(errs.ErrInvalidParams)
	}

	var p commandPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return cmd, errs.NewError(errs.ErrInvalidParams)
	}

	if p.RoomID == nil || *p.RoomID <= 0 {
		return cmd, errs.NewError(errs.ErrInvalidParams)
	}
	cmd.RoomID = *p.RoomID

	if in.Type != CmdSendMessage {
		return cmd, nil
	}

	cmd.Message = p.Message
	cmd.File = p.FileData
	cmd.TempID = p.TempID
	cmd.MessageType = p.MessageType
	if cmd.MessageType == "" {
		cmd.MessageType = MessageText
	}

	switch cmd.MessageType {
	case MessageText, MessageFile:
	default:
		// system messages are never accepted from clients
		return cmd, errs.NewError(errs.ErrInvalidParams)
	}

	return cmd, nil
}
