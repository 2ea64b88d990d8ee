package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/events"
	"voicelive-relay/voicelive"
)

const writeTimeout = 10 * time.Second

// ClientSession wraps one accepted browser/desktop websocket. The relay owns
// it for its lifetime: the client-to-upstream pump reads it, the
// upstream-to-client pump writes it, and teardown closes it exactly once.
type ClientSession struct {
	ID        string
	CreatedAt time.Time

	ws      *websocket.Conn
	writeMu sync.Mutex

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
}

// NewClientSession wraps an upgraded client connection.
func NewClientSession(id string, ws *websocket.Conn) *ClientSession {
	ws.SetReadLimit(512 * 1024)
	ws.EnableWriteCompression(true)

	now := time.Now()
	return &ClientSession{
		ID:           id,
		CreatedAt:    now,
		lastActivity: now,
		ws:           ws,
		CloseChan:    make(chan struct{}),
	}
}

// ReadRaw blocks for the next client frame and records activity.
// After Close it returns voicelive.ErrConnClosed, mirroring the upstream leg.
func (cs *ClientSession) ReadRaw() ([]byte, error) {
	_, raw, err := cs.ws.ReadMessage()
	if err != nil {
		if cs.IsClosed() {
			return nil, voicelive.ErrConnClosed
		}
		return nil, err
	}
	cs.Touch()
	return raw, nil
}

// SetReadDeadline bounds the next ReadRaw; zero time clears it.
func (cs *ClientSession) SetReadDeadline(t time.Time) error {
	return cs.ws.SetReadDeadline(t)
}

// SetPongHandler installs the pong callback used to extend the read deadline
// while a liveness probe loop is running.
func (cs *ClientSession) SetPongHandler(h func(string) error) {
	cs.ws.SetPongHandler(h)
}

// WriteEvent sends one event frame to the client.
func (cs *ClientSession) WriteEvent(ev events.Event) error {
	return cs.WriteRaw(ev.Raw)
}

// WriteRaw sends a raw frame to the client unmodified.
func (cs *ClientSession) WriteRaw(raw []byte) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	if cs.IsClosed() {
		return voicelive.ErrConnClosed
	}
	cs.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cs.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("client write: %w", err)
	}
	return nil
}

// Ping sends a liveness probe. WriteControl is safe alongside a concurrent
// data writer, so the reading pump may call this while the other pump writes.
func (cs *ClientSession) Ping() error {
	return cs.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Touch records client activity for the inactivity sweeper.
func (cs *ClientSession) Touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastSeen returns the most recent activity time.
func (cs *ClientSession) LastSeen() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// IsClosed returns whether the session has been torn down.
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Close tears the session down with a normal close frame. Safe to call
// multiple times; a blocked ReadRaw unblocks with voicelive.ErrConnClosed.
func (cs *ClientSession) Close() error {
	return cs.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason sends a distinguishable close frame (e.g. policy violation
// on handshake failure) before tearing down.
func (cs *ClientSession) CloseWithReason(code int, reason string) error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	// Best effort; the client may already be gone.
	cs.writeMu.Lock()
	cs.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = cs.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	cs.writeMu.Unlock()

	err := cs.ws.Close()
	close(cs.CloseChan)
	return err
}
