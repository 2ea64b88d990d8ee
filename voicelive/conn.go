package voicelive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/events"
)

// ErrConnClosed is returned by reads and writes after Close. Closing the
// connection from another goroutine is the relay's cancellation mechanism,
// so a blocked ReadEvent unblocking with this error is a normal exit.
var ErrConnClosed = errors.New("voicelive: connection closed")

const writeTimeout = 10 * time.Second

// Conn is one live websocket to the Voice Live API.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(4 * 1024 * 1024)
	return &Conn{ws: ws}
}

// ReadEvent blocks until the next upstream event arrives. A frame that is
// not a valid event returns an error wrapping events.ErrMalformed; the
// connection stays usable. Transport failures return ErrConnClosed after a
// local Close, otherwise the read error itself.
func (c *Conn) ReadEvent() (events.Event, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		if c.isClosed() {
			return events.Event{}, ErrConnClosed
		}
		return events.Event{}, fmt.Errorf("voicelive: read: %w", err)
	}
	return events.Parse(raw)
}

// WriteEvent sends one event upstream.
func (c *Conn) WriteEvent(ev events.Event) error {
	return c.WriteRaw(ev.Raw)
}

// WriteRaw sends a raw frame upstream unmodified.
func (c *Conn) WriteRaw(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("voicelive: write: %w", err)
	}
	return nil
}

// SetReadDeadline bounds the next ReadEvent. Used by the negotiator's
// handshake timeout; pass a zero time to clear.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close tears down the connection. Safe to call multiple times and from any
// goroutine; a blocked ReadEvent unblocks with ErrConnClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Best effort close frame; the peer may already be gone.
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
