// ABOUTME: Conn wraps a single websocket connection with its pumps and lifecycle
// ABOUTME: State moves unauthenticated -> authenticated -> closed, never backward

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebridge/chat-gateway/internal/rooms"
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

// Conn is one live client connection. The read loop is the only writer of
// the identity fields, so they need no locking; the send channel is the sole
// path for outbound events and doubles as the room-hub sink.
type Conn struct {
	ws       *websocket.Conn
	handleID string
	logger   *slog.Logger

	// Bound at authentication.
	userID      string
	role        string
	displayName string

	state connState

	send      chan rooms.Event
	done      chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	readDeadline time.Duration
}

func newConn(ws *websocket.Conn, handleID string, cfg connConfig, logger *slog.Logger) *Conn {
	return &Conn{
		ws:           ws,
		handleID:     handleID,
		logger:       logger.With("handle_id", handleID),
		send:         make(chan rooms.Event, cfg.sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: cfg.writeTimeout,
		pingInterval: cfg.pingInterval,
		readDeadline: cfg.readDeadline,
	}
}

type connConfig struct {
	writeTimeout time.Duration
	pingInterval time.Duration
	readDeadline time.Duration
	readLimit    int64
	sendBuffer   int
}

// enqueue hands an event to the write pump without blocking. A connection
// whose buffer is full is too far behind to care about this event.
func (c *Conn) enqueue(event rooms.Event) {
	select {
	case c.send <- event:
	default:
		c.logger.Debug("dropping event for slow connection", "event", event.Name)
	}
}

// close shuts the websocket down once. Safe to call from any goroutine.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// closeWithReason sends a close frame carrying a reason before tearing down.
func (c *Conn) closeWithReason(code int, reason string) {
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.close()
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings. Runs until the connection closes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(event); err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// prepareRead arms the read limit and the pong-refreshed read deadline.
func (c *Conn) prepareRead(readLimit int64) {
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readDeadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.readDeadline))
	})
}

// readFrame blocks for the next inbound envelope.
func (c *Conn) readFrame() (*envelope, error) {
	var env envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// sendError reports a per-event failure to this connection only.
func (c *Conn) sendError(err error) {
	c.enqueue(errorEvent(err))
}
