package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/notify"
	"roomcast/internal/app/session"
	"roomcast/internal/app/user"
)

// Store implements chat.Store, notify.Store and the session lookups on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetMembership returns the membership of identity in roomID.
func (s *Store) GetMembership(ctx context.Context, identity string, roomID int64) (chat.Membership, bool, error) {
	const q = `
		SELECT room_id, user_id, is_owner, joined_at
		FROM room_members
		WHERE room_id = $1 AND user_id = $2`

	var m chat.Membership
	err := s.pool.QueryRow(ctx, q, roomID, identity).Scan(&m.RoomID, &m.Identity, &m.IsOwner, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Membership{}, false, nil
	}
	if err != nil {
		return chat.Membership{}, false, fmt.Errorf("get membership: %w", err)
	}

	return m, true, nil
}

// GetRoomMeta returns the metadata of roomID.
func (s *Store) GetRoomMeta(ctx context.Context, roomID int64) (chat.RoomMeta, bool, error) {
	const q = `SELECT id, name, is_private FROM rooms WHERE id = $1`

	var meta chat.RoomMeta
	err := s.pool.QueryRow(ctx, q, roomID).Scan(&meta.ID, &meta.Name, &meta.IsPrivate)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.RoomMeta{}, false, nil
	}
	if err != nil {
		return chat.RoomMeta{}, false, fmt.Errorf("get room: %w", err)
	}

	return meta, true, nil
}

// CreateMessage appends a message to its room.
func (s *Store) CreateMessage(ctx context.Context, msg chat.NewMessage) (chat.Message, error) {
	const q = `
		INSERT INTO messages (room_id, author_id, body, message_type, file_key, file_name, file_mime, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	var fileKey, fileName, fileMime *string
	var fileSize *int64
	if msg.File != nil {
		fileKey, fileName, fileMime, fileSize = &msg.File.Key, &msg.File.Name, &msg.File.MimeType, &msg.File.Size
	}

	out := chat.Message{
		RoomID: msg.RoomID,
		Author: msg.Author,
		Body:   msg.Body,
		Type:   msg.Type,
		File:   msg.File,
	}

	err := s.pool.QueryRow(ctx, q,
		msg.RoomID, msg.Author, msg.Body, string(msg.Type),
		fileKey, fileName, fileMime, fileSize,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return chat.Message{}, fmt.Errorf("create message: room or author no longer exists: %w", err)
		}
		return chat.Message{}, fmt.Errorf("create message: %w", err)
	}

	return out, nil
}

// GetUserProfile returns the public profile of identity.
func (s *Store) GetUserProfile(ctx context.Context, identity string) (user.Profile, error) {
	const q = `SELECT id, display_name, avatar_url FROM users WHERE id = $1`

	var p user.Profile
	if err := s.pool.QueryRow(ctx, q, identity).Scan(&p.ID, &p.DisplayName, &p.AvatarURL); err != nil {
		return user.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	return p, nil
}

// UserExists reports whether identity has a user record.
func (s *Store) UserExists(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}

// GetRoomMembers returns every durable member of roomID.
func (s *Store) GetRoomMembers(ctx context.Context, roomID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room members: %w", err)
	}

	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("get room members: %w", err)
	}

	return members, nil
}

// GetDeliveryPreference returns identity's push setting. Unknown identities have none.
func (s *Store) GetDeliveryPreference(ctx context.Context, identity string) (notify.DeliveryPreference, error) {
	const q = `SELECT push_token, push_enabled FROM users WHERE id = $1`

	var token *string
	var pref notify.DeliveryPreference
	err := s.pool.QueryRow(ctx, q, identity).Scan(&token, &pref.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return notify.DeliveryPreference{}, nil
	}
	if err != nil {
		return notify.DeliveryPreference{}, fmt.Errorf("get delivery preference: %w", err)
	}

	if token != nil {
		pref.Token = *token
	}
	return pref, nil
}

// ClearDeliveryToken removes token from identity unless it was replaced meanwhile.
func (s *Store) ClearDeliveryToken(ctx context.Context, identity, token string) error {
	const q = `UPDATE users SET push_token = NULL WHERE id = $1 AND push_token = $2`

	if _, err := s.pool.Exec(ctx, q, identity, token); err != nil {
		return fmt.Errorf("clear delivery token: %w", err)
	}
	return nil
}

// LookupSession returns the login session with the given id.
func (s *Store) LookupSession(ctx context.Context, sessionID string) (session.Session, bool, error) {
	const q = `SELECT id, user_id, expires_at, revoked_at FROM sessions WHERE id = $1`

	var sess session.Session
	var revokedAt *time.Time
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&sess.ID, &sess.Identity, &sess.ExpiresAt, &revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("lookup session: %w", err)
	}

	sess.Revoked = revokedAt != nil
	return sess, true, nil
}

var (
	_ chat.Store            = (*Store)(nil)
	_ notify.Store          = (*Store)(nil)
	_ session.UserStore     = (*Store)(nil)
	_ session.SessionLookup = (*Store)(nil)
)
