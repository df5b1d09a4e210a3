/*
Package notify pushes notifications for persisted messages to durable room members who
are not present in the room when the message is dispatched.

Dispatch is fire-and-forget from the engine's point of view: Notify returns immediately
and the push fan-out runs on its own goroutine under its own timeout.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/push"
	"roomcast/internal/pkg/logx"
)

const (
	// PreviewRunes is the maximum length of a text preview in a notification body.
	PreviewRunes = 120

	// ImageURLDuration is how long the presigned image link in a notification stays valid.
	ImageURLDuration = 24 * time.Hour

	defaultConcurrency = 8
	defaultTimeout     = 30 * time.Second
)

// ErrShuttingDown is logged when Notify is called after Shutdown.
var ErrShuttingDown = errors.New("notify: dispatcher is shutting down")

// DeliveryPreference is an identity's push setting.
type DeliveryPreference struct {
	Token   string
	Enabled bool
}

// Store is the durable collaborator of the dispatcher.
type Store interface {
	GetRoomMembers(ctx context.Context, roomID int64) ([]string, error)
	GetDeliveryPreference(ctx context.Context, identity string) (DeliveryPreference, error)
	ClearDeliveryToken(ctx context.Context, identity, token string) error
}

// Presence reports who is currently in a room.
type Presence interface {
	PresentMembers(roomID int64) []string
}

// ImageSigner produces a temporary download link for an attachment.
type ImageSigner interface {
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)
}

// Config wires a Dispatcher. Images is optional.
type Config struct {
	Store    Store
	Presence Presence
	Gateway  push.Gateway
	Images   ImageSigner

	// Concurrency bounds the pushes in flight per dispatch.
	Concurrency int

	// Timeout bounds one detached dispatch started by Notify.
	Timeout time.Duration
}

// Dispatcher fans a message out to the push gateway.
type Dispatcher struct {
	store       Store
	presence    Presence
	gateway     push.Gateway
	images      ImageSigner
	concurrency int
	timeout     time.Duration

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	logger zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:       cfg.Store,
		presence:    cfg.Presence,
		gateway:     cfg.Gateway,
		images:      cfg.Images,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		logger:      logx.Component("notify"),
	}

	if d.concurrency < 1 {
		d.concurrency = defaultConcurrency
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}

	return d
}

// Notify implements chat.Notifier. It never blocks on the dispatch.
func (d *Dispatcher) Notify(notice chat.Notice) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Err(ErrShuttingDown).Int64("message_id", notice.Message.ID).Msg("Dropping notification")
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().
					Interface("panic", r).
					Int64("message_id", notice.Message.ID).
					Msg("Recovered from panic in notification dispatch")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		d.Dispatch(ctx, notice)
	}()
}

// Shutdown stops accepting notifications and waits for in-flight dispatches or ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch pushes notice to every durable member of the room except the sender,
// identities present in the room, and identities without an enabled delivery token.
// It returns the number of pushes the gateway accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, notice chat.Notice) int {
	msg := notice.Message
	logger := d.logger.With().Int64("room_id", msg.RoomID).Int64("message_id", msg.ID).Logger()

	members, err := d.store.GetRoomMembers(ctx, msg.RoomID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load room members for notification")
		return 0
	}

	candidates := d.candidates(members, msg)
	if len(candidates) == 0 {
		return 0
	}

	template := d.build(ctx, notice)

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, identity := range candidates {
		g.Go(func() error {
			if d.deliver(ctx, logger, identity, template) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(delivered.Load())
	logger.Debug().Int("candidates", len(candidates)).Int("delivered", n).Msg("Notification dispatch finished")

	return n
}

// candidates is the roster minus the sender minus identities present now.
func (d *Dispatcher) candidates(members []string, msg chat.Message) []string {
	present := make(map[string]struct{})
	for _, identity := range d.presence.PresentMembers(msg.RoomID) {
		present[identity] = struct{}{}
	}

	out := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, identity := range members {
		if identity == msg.Author {
			continue
		}
		if _, ok := present[identity]; ok {
			continue
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		out = append(out, identity)
	}

	return out
}

func (d *Dispatcher) deliver(ctx context.Context, logger zerolog.Logger, identity string, template push.Notification) bool {
	pref, err := d.store.GetDeliveryPreference(ctx, identity)
	if err != nil {
		logger.Warn().Err(err).Str("identity", identity).Msg("Failed to load delivery preference")
		return false
	}
	if !pref.Enabled || pref.Token == "" {
		return false
	}

	n := template
	n.Token = pref.Token

	err = d.gateway.Push(ctx, n)
	switch {
	case err == nil:
		return true
	case errors.Is(err, push.ErrInvalidToken):
		logger.Info().Str("identity", identity).Msg("Delivery token rejected, clearing it")
		if err := d.store.ClearDeliveryToken(ctx, identity, pref.Token); err != nil {
			logger.Error().Err(err).Str("identity", identity).Msg("Failed to clear delivery token")
		}
	default:
		logger.Warn().Err(err).Str("identity", identity).Msg("Delivery error")
	}

	return false
}

// build derives the shared part of the notification from the message.
func (d *Dispatcher) build(ctx context.Context, notice chat.Notice) push.Notification {
	msg := notice.Message

	n := push.Notification{
		Title: Title(notice),
		Body:  Body(msg),
		Data: map[string]string{
			"roomId":      strconv.FormatInt(msg.RoomID, 10),
			"messageId":   strconv.FormatInt(msg.ID, 10),
			"messageType": string(msg.Type),
		},
	}

	if msg.File != nil && msg.File.IsImage() && d.images != nil {
		url, err := d.images.PresignDownload(ctx, msg.File.Key, ImageURLDuration)
		if err != nil {
			d.logger.Warn().Err(err).Str("key", msg.File.Key).Msg("Failed to sign notification image")
		} else {
			n.Image = url
		}
	}

	return n
}

// Title is the sender's display name, qualified with the room name for public rooms.
func Title(notice chat.Notice) string {
	name := notice.Sender.Name()
	if name == "" {
		name = notice.Message.Author
	}
	if notice.Room.IsPrivate || notice.Room.Name == "" {
		return name
	}
	return fmt.Sprintf("%s in #%s", name, notice.Room.Name)
}

// Body is a preview of the message text, or a description of the attached file.
func Body(msg chat.Message) string {
	if msg.Type == chat.MessageFile && msg.File != nil {
		if caption := Preview(msg.Body, PreviewRunes); caption != "" {
			return caption
		}
		if msg.File.IsImage() {
			return "Sent a photo"
		}
		return "Sent a file: " + msg.File.Name
	}
	return Preview(msg.Body, PreviewRunes)
}

// Preview collapses whitespace and truncates s to at most limit runes.
func Preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}
