package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/push"
	"roomcast/internal/app/user"
)

type fakeStore struct {
	mu      sync.Mutex
	members map[int64][]string
	prefs   map[string]DeliveryPreference
	cleared []string
}

func (s *fakeStore) GetRoomMembers(_ context.Context, roomID int64) ([]string, error) {
	return s.members[roomID], nil
}

func (s *fakeStore) GetDeliveryPreference(_ context.Context, identity string) (DeliveryPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs[identity], nil
}

func (s *fakeStore) ClearDeliveryToken(_ context.Context, identity, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefs[identity].Token == token {
		pref := s.prefs[identity]
		pref.Token = ""
		s.prefs[identity] = pref
	}
	s.cleared = append(s.cleared, identity)
	return nil
}

type fakePresence map[int64][]string

func (p fakePresence) PresentMembers(roomID int64) []string { return p[roomID] }

type fakeGateway struct {
	mu      sync.Mutex
	sent    []push.Notification
	invalid map[string]bool
	fail    error
	block   chan struct{}
}

func (g *fakeGateway) Push(ctx context.Context, n push.Notification) error {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.invalid[n.Token] {
		return push.ErrInvalidToken
	}
	if g.fail != nil {
		return g.fail
	}
	g.sent = append(g.sent, n)
	return nil
}

func (g *fakeGateway) tokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.sent))
	for _, n := range g.sent {
		out = append(out, n.Token)
	}
	slices.Sort(out)
	return out
}

type fakeSigner struct{}

func (fakeSigner) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.example/" + key, nil
}

func textNotice(roomID int64, author, body string) chat.Notice {
	return chat.Notice{
		Message: chat.Message{ID: 9, RoomID: roomID, Author: author, Body: body, Type: chat.MessageText},
		Sender:  user.Profile{ID: author, DisplayName: "Ada"},
		Room:    chat.RoomMeta{ID: roomID, Name: "general"},
	}
}

func TestDispatchTargetsAbsentMembersOnly(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{42: {"u1", "u2", "u3"}},
		prefs: map[string]DeliveryPreference{
			"u1": {Token: "tok-1", Enabled: true},
			"u2": {Token: "tok-2", Enabled: true},
			"u3": {Token: "tok-3", Enabled: true},
		},
	}
	gw := &fakeGateway{}
	d := NewDispatcher(Config{
		Store:    store,
		Presence: fakePresence{42: {"u1", "u2"}},
		Gateway:  gw,
	})

	n := d.Dispatch(context.Background(), textNotice(42, "u1", "hello"))

	if n != 1 {
		t.Fatalf("Dispatch delivered %d, want 1", n)
	}
	if got := gw.tokens(); !slices.Equal(got, []string{"tok-3"}) {
		t.Fatalf("pushed to %v, want [tok-3]", got)
	}

	sent := gw.sent[0]
	if sent.Title != "Ada in #general" || sent.Body != "hello" {
		t.Errorf("notification = %+v", sent)
	}
	if sent.Data["roomId"] != "42" || sent.Data["messageId"] != "9" || sent.Data["messageType"] != "text" {
		t.Errorf("data = %v", sent.Data)
	}
}

func TestDispatchSkipsDisabledAndTokenless(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{1: {"sender", "off", "none", "on"}},
		prefs: map[string]DeliveryPreference{
			"off":  {Token: "tok-off", Enabled: false},
			"none": {Enabled: true},
			"on":   {Token: "tok-on", Enabled: true},
		},
	}
	gw := &fakeGateway{}
	d := NewDispatcher(Config{Store: store, Presence: fakePresence{}, Gateway: gw})

	if n := d.Dispatch(context.Background(), textNotice(1, "sender", "x")); n != 1 {
		t.Fatalf("delivered %d, want 1", n)
	}
	if got := gw.tokens(); !slices.Equal(got, []string{"tok-on"}) {
		t.Errorf("pushed to %v", got)
	}
}

func TestDispatchClearsInvalidTokens(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{42: {"u1", "u3"}},
		prefs:   map[string]DeliveryPreference{"u3": {Token: "dead", Enabled: true}},
	}
	gw := &fakeGateway{invalid: map[string]bool{"dead": true}}
	d := NewDispatcher(Config{Store: store, Presence: fakePresence{}, Gateway: gw})

	if n := d.Dispatch(context.Background(), textNotice(42, "u1", "one")); n != 0 {
		t.Fatalf("delivered %d, want 0", n)
	}
	if !slices.Equal(store.cleared, []string{"u3"}) {
		t.Fatalf("cleared = %v, want [u3]", store.cleared)
	}

	// the cleared token is no longer attempted
	d.Dispatch(context.Background(), textNotice(42, "u1", "two"))
	if len(store.cleared) != 1 {
		t.Errorf("token cleared again: %v", store.cleared)
	}
}

func TestDispatchContinuesAfterDeliveryError(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{1: {"a", "b"}},
		prefs: map[string]DeliveryPreference{
			"a": {Token: "ta", Enabled: true},
			"b": {Token: "tb", Enabled: true},
		},
	}
	gw := &fakeGateway{fail: errors.New("gateway 503")}
	d := NewDispatcher(Config{Store: store, Presence: fakePresence{}, Gateway: gw, Concurrency: 1})

	if n := d.Dispatch(context.Background(), textNotice(1, "sender", "x")); n != 0 {
		t.Errorf("delivered %d, want 0", n)
	}
	if len(store.cleared) != 0 {
		t.Error("transient failures must not clear tokens")
	}
}

func TestNotifyRunsDetachedAndShutdownDrains(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{1: {"a"}},
		prefs:   map[string]DeliveryPreference{"a": {Token: "ta", Enabled: true}},
	}
	gw := &fakeGateway{block: make(chan struct{})}
	d := NewDispatcher(Config{Store: store, Presence: fakePresence{}, Gateway: gw, Timeout: 5 * time.Second})

	returned := make(chan struct{})
	go func() {
		d.Notify(textNotice(1, "sender", "x"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the gateway")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown with a blocked push = %v, want deadline exceeded", err)
	}

	close(gw.block)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown after release = %v", err)
	}
	if got := gw.tokens(); !slices.Equal(got, []string{"ta"}) {
		t.Errorf("pushed to %v", got)
	}

	d.Notify(textNotice(1, "sender", "late"))
	if got := gw.tokens(); len(got) != 1 {
		t.Errorf("notification accepted after shutdown: %v", got)
	}
}

func TestTitleAndBody(t *testing.T) {
	private := textNotice(1, "u1", "hi")
	private.Room.IsPrivate = true
	if got := Title(private); got != "Ada" {
		t.Errorf("private title = %q", got)
	}
	if got := Title(textNotice(1, "u1", "hi")); got != "Ada in #general" {
		t.Errorf("public title = %q", got)
	}

	long := strings.Repeat("é", 200)
	if got := Body(chat.Message{Type: chat.MessageText, Body: long}); len([]rune(got)) != PreviewRunes {
		t.Errorf("preview has %d runes, want %d", len([]rune(got)), PreviewRunes)
	}

	file := chat.Message{Type: chat.MessageFile, File: &chat.FileDescriptor{Name: "report.pdf", MimeType: "application/pdf"}}
	if got := Body(file); got != "Sent a file: report.pdf" {
		t.Errorf("file body = %q", got)
	}
}

func TestDispatchSignsImages(t *testing.T) {
	store := &fakeStore{
		members: map[int64][]string{1: {"a"}},
		prefs:   map[string]DeliveryPreference{"a": {Token: "ta", Enabled: true}},
	}
	gw := &fakeGateway{}
	d := NewDispatcher(Config{Store: store, Presence: fakePresence{}, Gateway: gw, Images: fakeSigner{}})

	notice := textNotice(1, "sender", "")
	notice.Message.Type = chat.MessageFile
	notice.Message.File = &chat.FileDescriptor{Key: "rooms/1/x.png", Name: "x.png", MimeType: "image/png", Size: 10}

	d.Dispatch(context.Background(), notice)

	if len(gw.sent) != 1 {
		t.Fatalf("sent %d notifications", len(gw.sent))
	}
	if gw.sent[0].Image != "https://blobs.example/rooms/1/x.png" || gw.sent[0].Body != "Sent a photo" {
		t.Errorf("notification = %+v", gw.sent[0])
	}
}

func TestDispatchKeepsTokensWhenGatewayEndpointIsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store := &fakeStore{
		members: map[int64][]string{42: {"u1", "u2", "u3", "u4"}},
		prefs: map[string]DeliveryPreference{
			"u1": {Token: "ExponentPushToken[1]", Enabled: true},
			"u2": {Token: "ExponentPushToken[2]", Enabled: true},
			"u3": {Token: "ExponentPushToken[3]", Enabled: true},
			"u4": {Token: "ExponentPushToken[4]", Enabled: true},
		},
	}
	d := NewDispatcher(Config{
		Store:    store,
		Presence: fakePresence{},
		Gateway:  push.NewHTTPGateway(srv.URL, "", time.Second),
	})

	if n := d.Dispatch(context.Background(), textNotice(42, "u1", "hello")); n != 0 {
		t.Fatalf("delivered %d, want 0", n)
	}
	if len(store.cleared) != 0 {
		t.Fatalf("tokens cleared after a 404 from the gateway: %v", store.cleared)
	}
}
