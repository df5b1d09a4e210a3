package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 32 * 1024

	// capacity of the outbound queue before the client counts as a slow consumer.
	sendQueueSize = 256

	// sustained command rate and burst allowed per connection.
	commandRate  = rate.Limit(10)
	commandBurst = 20
)

// FrameHandler consumes the frames read from a client. Engine implements it.
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn Conn, frame []byte)
	Disconnect(conn Conn)
}

// Client is a WebSocket connection of one authenticated identity.
type Client struct {
	id          uuid.UUID
	identity    string
	connectedAt time.Time

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// done is closed by Close; the write pump then sends the close frame.
	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	limiter *rate.Limiter

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient wraps an upgraded connection for identity.
func NewClient(wsConn *websocket.Conn, identity string) *Client {
	id := uuid.New()

	return &Client{
		id:          id,
		identity:    identity,
		connectedAt: time.Now(),
		conn:        wsConn,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(commandRate, commandBurst),
		logger: logx.Component("client").With().
			Str("identity", identity).
			Str("conn_id", id.String()).
			Logger(),
	}
}

func (c *Client) ID() uuid.UUID          { return c.id }
func (c *Client) Identity() string       { return c.identity }
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// Send queues a frame. It never blocks.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush, send a close frame with code and reason, and close the socket.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Run pumps the connection until it ends, then hands it to h.Disconnect.
// Frames are handled one at a time, in arrival order. The disconnect runs
// even when h panics.
func (c *Client) Run(ctx context.Context, h FrameHandler) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	defer func() {
		c.Close(websocket.CloseNormalClosure, "")
		h.Disconnect(c)
		<-writerDone
	}()

	c.readPump(ctx, h)
}

// readPump handles heartbeats (Pong) and hands every inbound frame to h.
func (c *Client) readPump(ctx context.Context, h FrameHandler) {
	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.sendError(errs.NewError(errs.ErrInvalidJSONFormat))
			continue
		}

		if !c.limiter.Allow() {
			c.sendError(errs.NewError(errs.ErrRateLimitExceeded))
			continue
		}

		h.HandleFrame(ctx, c, frame)
	}
}

func (c *Client) sendError(customErr *errs.CustomError) {
	frame, err := NewFrame(EventError, 0, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build error event")
		return
	}

	if err := c.Send(frame); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to queue error event")
	}
}

// writePump writes queued frames and periodic pings until the client is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	shutdown := ctx.Done()

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit so the read pump unblocks
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in writePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-shutdown:
			shutdown = nil
			c.Close(websocket.CloseGoingAway, "server shutting down")

		case <-c.done:
			c.flush()
			c.writeClose()
			return
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeClose() {
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}

	closeMessage := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Int("close_code", c.closeCode).Msg("Failed to send close frame")
	}
}

// write sends one message. Returns false if the write pump should terminate.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Info().Err(err).Msg("Error writing message")
		return false
	}

	return true
}
