package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomcast/internal/app/chat"
)

// newTestStore connects to TEST_DATABASE_URL, skipping the test when it is unset.
func newTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewStore(pool), pool
}

func TestStoreRoundTrip(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	suffix := uuid.NewString()
	alice, bob := "alice-"+suffix, "bob-"+suffix

	for _, id := range []string{alice, bob} {
		if _, err := pool.Exec(ctx, `INSERT INTO users (id, display_name, push_token) VALUES ($1, $2, $3)`, id, "Name "+id, "tok-"+id); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	var roomID int64
	if err := pool.QueryRow(ctx, `INSERT INTO rooms (name, created_by) VALUES ('general', $1) RETURNING id`, alice).Scan(&roomID); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO room_members (room_id, user_id, is_owner) VALUES ($1, $2, TRUE), ($1, $3, FALSE)`, roomID, alice, bob); err != nil {
		t.Fatalf("seed members: %v", err)
	}

	m, found, err := store.GetMembership(ctx, alice, roomID)
	if err != nil || !found || !m.IsOwner {
		t.Fatalf("GetMembership = %+v, %v, %v", m, found, err)
	}
	if _, found, _ := store.GetMembership(ctx, "nobody", roomID); found {
		t.Error("unexpected membership for unknown identity")
	}

	meta, found, err := store.GetRoomMeta(ctx, roomID)
	if err != nil || !found || meta.Name != "general" {
		t.Fatalf("GetRoomMeta = %+v, %v, %v", meta, found, err)
	}

	msg, err := store.CreateMessage(ctx, chat.NewMessage{
		RoomID: roomID,
		Author: alice,
		Type:   chat.MessageFile,
		File:   &chat.FileDescriptor{Key: chat.FileKeyPrefix(roomID) + "a.png", Name: "a.png", MimeType: "image/png", Size: 3},
	})
	if err != nil || msg.ID == 0 || msg.CreatedAt.IsZero() {
		t.Fatalf("CreateMessage = %+v, %v", msg, err)
	}

	if _, err := store.CreateMessage(ctx, chat.NewMessage{RoomID: -1, Author: alice, Type: chat.MessageText, Body: "x"}); err == nil {
		t.Error("CreateMessage into a missing room should fail")
	}

	members, err := store.GetRoomMembers(ctx, roomID)
	if err != nil || len(members) != 2 {
		t.Fatalf("GetRoomMembers = %v, %v", members, err)
	}

	pref, err := store.GetDeliveryPreference(ctx, bob)
	if err != nil || !pref.Enabled || pref.Token != "tok-"+bob {
		t.Fatalf("GetDeliveryPreference = %+v, %v", pref, err)
	}
	if err := store.ClearDeliveryToken(ctx, bob, "tok-"+bob); err != nil {
		t.Fatalf("ClearDeliveryToken: %v", err)
	}
	if pref, _ := store.GetDeliveryPreference(ctx, bob); pref.Token != "" {
		t.Errorf("token not cleared: %+v", pref)
	}

	sessionID := "sess-" + suffix
	if _, err := pool.Exec(ctx, `INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`, sessionID, alice, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	sess, found, err := store.LookupSession(ctx, sessionID)
	if err != nil || !found || sess.Identity != alice || sess.Revoked {
		t.Fatalf("LookupSession = %+v, %v, %v", sess, found, err)
	}

	exists, err := store.UserExists(ctx, alice)
	if err != nil || !exists {
		t.Fatalf("UserExists = %v, %v", exists, err)
	}
}
