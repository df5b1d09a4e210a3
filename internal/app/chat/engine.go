package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomcast/internal/app/storage"
	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

const (
	// MaxContentBytes is the maximum allowed size (in bytes) of message content.
	MaxContentBytes = 5000

	// CloseSessionKicked is the WebSocket close code sent to a connection
	// replaced by a newer one of the same identity.
	CloseSessionKicked = 4001

	// DefaultStoreTimeout bounds store calls when EngineConfig leaves it unset.
	DefaultStoreTimeout = 5 * time.Second

	lockStripes = 64
)

// EngineConfig wires the engine's collaborators. Blobs and Notifier are optional.
type EngineConfig struct {
	Store    Store
	Blobs    ObjectStatter
	Notifier Notifier

	Registry *Registry
	Presence *Presence
	Typing   *Typing

	StoreTimeout time.Duration
}

// Engine applies client commands to the in-memory room state and fans the
// resulting events out to present connections.
//
// Mutations for one identity are serialized by a striped lock. Store calls are
// made before the lock is taken, so after acquiring it the engine re-checks that
// the connection is still the registered one.
type Engine struct {
	store    Store
	blobs    ObjectStatter
	notifier Notifier

	registry *Registry
	presence *Presence
	typing   *Typing

	storeTimeout time.Duration

	locks [lockStripes]sync.Mutex

	// profiles of identities present in at least one room, for departure events.
	profileMu sync.Mutex
	profiles  map[string]user.Profile

	logger zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:        cfg.Store,
		blobs:        cfg.Blobs,
		notifier:     cfg.Notifier,
		registry:     cfg.Registry,
		presence:     cfg.Presence,
		typing:       cfg.Typing,
		storeTimeout: cfg.StoreTimeout,
		profiles:     make(map[string]user.Profile),
		logger:       logx.Component("engine"),
	}

	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.storeTimeout <= 0 {
		e.storeTimeout = DefaultStoreTimeout
	}

	return e
}

func (e *Engine) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &e.locks[h.Sum32()%lockStripes]
}

// Admit registers conn. A previous connection of the same identity is torn
// down as if it had disconnected and then closed with CloseSessionKicked.
func (e *Engine) Admit(conn Conn) {
	identity := conn.Identity()

	mu := e.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if previous, ok := e.registry.Get(identity); ok && previous.ID() != conn.ID() {
		e.logger.Warn().
			Str("identity", identity).
			Str("previous_conn_id", previous.ID().String()).
			Str("conn_id", conn.ID().String()).
			Msg("Identity already connected. Replacing previous connection.")

		e.teardownLocked(identity)
		previous.Close(CloseSessionKicked, errs.NewError(errs.ErrSessionKicked).Message)
	}

	e.registry.Register(conn)

	e.logger.Info().
		Str("identity", identity).
		Str("conn_id", conn.ID().String()).
		Int("online", e.registry.Count()).
		Msg("Connection admitted.")
}

// Disconnect removes every trace of conn's identity. It is a no-op when conn
// is no longer the registered connection.
func (e *Engine) Disconnect(conn Conn) {
	identity := conn.Identity()

	mu := e.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if !e.registry.IsCurrent(conn) {
		e.logger.Debug().
			Str("identity", identity).
			Str("conn_id", conn.ID().String()).
			Msg("Ignoring disconnect of stale connection.")
		return
	}

	e.teardownLocked(identity)
	e.registry.UnregisterIf(identity, conn.ID())

	e.logger.Info().
		Str("identity", identity).
		Str("conn_id", conn.ID().String()).
		Dur("connected_for", time.Since(conn.ConnectedAt())).
		Msg("Connection closed.")
}

// teardownLocked announces the identity's departure from every joined room and
// purges its presence and typing state. Caller holds the identity lock.
func (e *Engine) teardownLocked(identity string) {
	departure := UserEventPayload{User: e.forgetProfile(identity)}

	for _, roomID := range e.presence.JoinedRooms(identity) {
		if err := e.registry.Broadcast(roomID, EventUserLeft, departure); err != nil {
			e.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to broadcast user_left")
		}
	}

	e.presence.DropIdentity(identity)
	e.typing.DropIdentity(identity)
}

// HandleFrame decodes a raw client frame and handles it.
func (e *Engine) HandleFrame(ctx context.Context, conn Conn, frame []byte) {
	cmd, err := ParseCommand(frame)
	if err != nil {
		e.sendError(conn, cmd, err)
		return
	}

	e.Handle(ctx, conn, cmd)
}

// Handle executes one command for conn. Failures are reported to conn only.
func (e *Engine) Handle(ctx context.Context, conn Conn, cmd Command) {
	var err *errs.CustomError

	switch cmd.Kind {
	case CmdJoinRoom:
		err = e.JoinRoom(ctx, conn, cmd.RoomID)
	case CmdLeaveRoom:
		err = e.LeaveRoom(conn, cmd.RoomID)
	case CmdSendMessage:
		err = e.SendMessage(ctx, conn, cmd)
	case CmdTypingStart:
		err = e.StartTyping(conn, cmd.RoomID)
	case CmdTypingStop:
		err = e.StopTyping(conn, cmd.RoomID)
	default:
		err = errs.NewError(errs.ErrUnknownCommand, string(cmd.Kind))
	}

	if err != nil {
		e.sendError(conn, cmd, err)
	}
}

func (e *Engine) sendError(conn Conn, cmd Command, customErr *errs.CustomError) {
	if customErr.Code >= errs.ErrUnknown {
		e.logger.Error().
			Err(customErr).
			Str("identity", conn.Identity()).
			Str("command", string(cmd.Kind)).
			Msg("Command failed")
	}

	payload := ErrorPayload{Code: customErr.Code, Message: customErr.Message, Command: cmd.Kind}
	if err := e.registry.SendEvent(conn, cmd.RoomID, EventError, payload); err != nil {
		e.logger.Error().Err(err).Msg("Failed to build error event")
	}
}

// JoinRoom makes conn's identity present in roomID after checking durable membership.
func (e *Engine) JoinRoom(ctx context.Context, conn Conn, roomID int64) *errs.CustomError {
	identity := conn.Identity()

	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if customErr := e.checkMembership(ctx, identity, roomID); customErr != nil {
		return customErr
	}

	meta, found, err := e.store.GetRoomMeta(ctx, roomID)
	if err != nil {
		return errs.Wrap(errs.ErrUnknown, err)
	}
	if !found {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	profile := e.loadProfile(ctx, identity)

	mu := e.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if !e.registry.IsCurrent(conn) {
		return nil
	}

	e.rememberProfile(profile)

	if e.presence.Join(identity, roomID) {
		if err := e.registry.Broadcast(roomID, EventUserJoined, UserEventPayload{User: profile}); err != nil {
			e.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to broadcast user_joined")
		}
	}

	joined := RoomJoinedPayload{Room: meta, Members: e.presence.PresentMembers(roomID)}
	if err := e.registry.SendEvent(conn, roomID, EventRoomJoined, joined); err != nil {
		e.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to send room_joined")
	}

	return nil
}

// LeaveRoom removes conn's identity from roomID. Leaving a room that was not joined
// is acknowledged without announcing anything.
func (e *Engine) LeaveRoom(conn Conn, roomID int64) *errs.CustomError {
	identity := conn.Identity()

	mu := e.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if !e.registry.IsCurrent(conn) {
		return nil
	}

	if e.presence.IsPresent(identity, roomID) {
		departure := UserEventPayload{User: e.cachedProfile(identity)}
		if err := e.registry.Broadcast(roomID, EventUserLeft, departure); err != nil {
			e.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to broadcast user_left")
		}

		e.presence.Leave(identity, roomID)
		e.typing.Clear(identity, roomID)

		if len(e.presence.JoinedRooms(identity)) == 0 {
			e.forgetProfile(identity)
		}
	}

	if err := e.registry.SendEvent(conn, roomID, EventRoomLeft, nil); err != nil {
		e.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to send room_left")
	}

	return nil
}

// SendMessage validates, persists and broadcasts a message, then hands it to the notifier.
func (e *Engine) SendMessage(ctx context.Context, conn Conn, cmd Command) *errs.CustomError {
	identity := conn.Identity()

	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	// membership first: non-members only ever see NotAMember
	if customErr := e.checkMembership(ctx, identity, cmd.RoomID); customErr != nil {
		return customErr
	}

	if customErr := validateContent(cmd); customErr != nil {
		return customErr
	}

	if cmd.MessageType == MessageFile {
		if customErr := e.checkBlob(ctx, cmd.File); customErr != nil {
			return customErr
		}
	}

	msg, err := e.store.CreateMessage(ctx, NewMessage{
		RoomID: cmd.RoomID,
		Author: identity,
		Body:   cmd.Message,
		Type:   cmd.MessageType,
		File:   cmd.File,
	})
	if err != nil {
		return errs.Wrap(errs.ErrPersistence, err)
	}

	sender := e.loadProfile(ctx, identity)

	meta, found, err := e.store.GetRoomMeta(ctx, cmd.RoomID)
	if err != nil || !found {
		meta = RoomMeta{ID: cmd.RoomID}
	}

	e.notifier.Notify(Notice{Message: msg, Sender: sender, Room: meta})

	payload := MessagePayload{
		ID:        msg.ID,
		Content:   msg.Body,
		Type:      msg.Type,
		File:      msg.File,
		Sender:    sender,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}

	if err := e.registry.Broadcast(cmd.RoomID, EventMessageReceived, payload); err != nil {
		e.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to broadcast message")
	}

	payload.TempID = cmd.TempID
	if err := e.registry.SendEvent(conn, cmd.RoomID, EventMessageSent, payload); err != nil {
		e.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to send message_sent")
	}

	return nil
}

// StartTyping records a typing signal from a present identity.
func (e *Engine) StartTyping(conn Conn, roomID int64) *errs.CustomError {
	return e.typingSignal(conn, roomID, true)
}

// StopTyping clears a typing signal from a present identity.
func (e *Engine) StopTyping(conn Conn, roomID int64) *errs.CustomError {
	return e.typingSignal(conn, roomID, false)
}

func (e *Engine) typingSignal(conn Conn, roomID int64, isTyping bool) *errs.CustomError {
	identity := conn.Identity()

	mu := e.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if !e.registry.IsCurrent(conn) {
		return nil
	}

	if !e.presence.IsPresent(identity, roomID) {
		return errs.NewError(errs.ErrNotInRoom)
	}

	if isTyping {
		e.typing.Start(identity, roomID)
	} else {
		e.typing.Stop(identity, roomID)
	}

	return nil
}

func (e *Engine) checkMembership(ctx context.Context, identity string, roomID int64) *errs.CustomError {
	_, found, err := e.store.GetMembership(ctx, identity, roomID)
	if err != nil {
		return errs.Wrap(errs.ErrUnknown, err)
	}
	if !found {
		return errs.NewError(errs.ErrNotAMember)
	}
	return nil
}

// checkBlob confirms the referenced upload exists and matches its descriptor.
// Without a blob store the descriptor is trusted.
func (e *Engine) checkBlob(ctx context.Context, fd *FileDescriptor) *errs.CustomError {
	if e.blobs == nil {
		return nil
	}

	info, err := e.blobs.StatObject(ctx, fd.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}
	if err != nil {
		return errs.Wrap(errs.ErrFileStorageFailed, err)
	}

	if info.Size != fd.Size {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}
	if info.ContentType != "" && !strings.EqualFold(info.ContentType, fd.MimeType) {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	return nil
}

func validateContent(cmd Command) *errs.CustomError {
	if len(cmd.Message) > MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}

	switch cmd.MessageType {
	case MessageText:
		if cmd.File != nil {
			return errs.NewError(errs.ErrInvalidParams)
		}
		if strings.TrimSpace(cmd.Message) == "" {
			return errs.NewError(errs.ErrMessageEmpty)
		}
	case MessageFile:
		return ValidateFile(cmd.RoomID, cmd.File)
	default:
		return errs.NewError(errs.ErrInvalidParams)
	}

	return nil
}

// loadProfile reads identity's profile, falling back to the bare identity.
func (e *Engine) loadProfile(ctx context.Context, identity string) user.Profile {
	profile, err := e.store.GetUserProfile(ctx, identity)
	if err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Msg("Profile lookup failed, using identity as display name")
		return user.Fallback(identity)
	}
	if profile.ID == "" {
		profile.ID = identity
	}
	return profile
}

func (e *Engine) rememberProfile(profile user.Profile) {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	e.profiles[profile.ID] = profile
}

func (e *Engine) cachedProfile(identity string) user.Profile {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	if profile, ok := e.profiles[identity]; ok {
		return profile
	}
	return user.Fallback(identity)
}

func (e *Engine) forgetProfile(identity string) user.Profile {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	profile, ok := e.profiles[identity]
	if !ok {
		profile = user.Fallback(identity)
	}
	delete(e.profiles, identity)

	return profile
}

// PresentMembers returns the identities present in roomID.
func (e *Engine) PresentMembers(roomID int64) []string {
	return e.presence.PresentMembers(roomID)
}

// OnlineCount returns the number of registered connections.
func (e *Engine) OnlineCount() int {
	return e.registry.Count()
}
