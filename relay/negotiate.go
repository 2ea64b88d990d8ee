package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"voicelive-relay/events"
	"voicelive-relay/voicelive"
)

// SessionState tracks the one-way lifecycle of a negotiated session.
type SessionState int

const (
	StatePending SessionState = iota
	StateCreated
	StateFailed
)

// Session is the result of negotiation. Immutable once created.
type Session struct {
	ID    string
	State SessionState
}

var (
	// ErrHandshakeTimeout means upstream never answered the session.update.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrUnexpectedHandshakeEvent means the first upstream event was neither
	// session.created nor error. Negotiation fails closed so behavior stays
	// deterministic.
	ErrUnexpectedHandshakeEvent = errors.New("unexpected event during handshake")
)

// HandshakeError carries the error event upstream returned during negotiation.
type HandshakeError struct {
	Message string
	Code    string
	Type    string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("upstream rejected session: %s (code=%s, type=%s)", e.Message, e.Code, e.Type)
}

// Negotiate performs the single session.update / session.created exchange
// that must complete before streaming starts. It is a rendezvous: exactly
// one event is awaited, bounded by timeout. On success the session.created
// event is returned so the caller can forward it to the client as the ready
// notification.
func Negotiate(upstream *voicelive.Conn, cfg events.SessionConfig, timeout time.Duration) (*Session, events.Event, error) {
	failed := &Session{State: StateFailed}

	if err := upstream.WriteEvent(events.SessionUpdate(cfg)); err != nil {
		return failed, events.Event{}, fmt.Errorf("send session.update: %w", err)
	}

	upstream.SetReadDeadline(time.Now().Add(timeout))
	defer upstream.SetReadDeadline(time.Time{})

	ev, err := upstream.ReadEvent()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return failed, events.Event{}, ErrHandshakeTimeout
		}
		// Malformed first event also fails closed: strict mode.
		return failed, events.Event{}, fmt.Errorf("await session.created: %w", err)
	}

	switch ev.Type {
	case events.TypeSessionCreated:
		return &Session{ID: ev.SessionID(), State: StateCreated}, ev, nil
	case events.TypeError:
		msg, code, errType := ev.ErrorInfo()
		return failed, ev, &HandshakeError{Message: msg, Code: code, Type: errType}
	default:
		return failed, ev, fmt.Errorf("%w: %s", ErrUnexpectedHandshakeEvent, ev.Type)
	}
}
