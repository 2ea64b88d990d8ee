package events

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event types originated by the browser client
const (
	TypeAudio            = "audio"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
)

// Event types on the upstream Voice Live connection
const (
	TypeSessionUpdate  = "session.update"
	TypeSessionCreated = "session.created"
	TypeError          = "error"
	TypeAudioDelta     = "response.audio.delta"
	TypeInputAppend    = "input_audio_buffer.append"
	TypeInputCommit    = "input_audio_buffer.commit"
	TypeInputClear     = "input_audio_buffer.clear"
	TypeResponseCancel = "response.cancel"
)

// ErrMalformed is returned when a frame is not valid JSON or carries no type.
var ErrMalformed = errors.New("malformed event")

// Event is one message on either relay leg. Type is the discriminator; Raw is
// the complete original frame, kept so unknown event types round-trip
// byte-for-byte.
type Event struct {
	Type string
	Raw  []byte
}

type envelope struct {
	Type string `json:"type"`
}

// Parse inspects a raw frame and returns it as an Event.
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type field", ErrMalformed)
	}
	return Event{Type: env.Type, Raw: raw}, nil
}

// Field returns a top-level string field of the event, or "" if absent.
func (e Event) Field(name string) string {
	node, err := sonic.Get(e.Raw, name)
	if err != nil {
		return ""
	}
	s, err := node.String()
	if err != nil {
		return ""
	}
	return s
}

// SessionID extracts session.id from a session.created event.
func (e Event) SessionID() string {
	node, err := sonic.Get(e.Raw, "session", "id")
	if err != nil {
		return ""
	}
	s, err := node.String()
	if err != nil {
		return ""
	}
	return s
}

// ErrorInfo pulls the nested error fields out of an upstream error event.
// Missing fields come back empty rather than failing.
func (e Event) ErrorInfo() (message, code, errType string) {
	if node, err := sonic.Get(e.Raw, "error", "message"); err == nil {
		message, _ = node.String()
	}
	if node, err := sonic.Get(e.Raw, "error", "code"); err == nil {
		code, _ = node.String()
	}
	if node, err := sonic.Get(e.Raw, "error", "type"); err == nil {
		errType, _ = node.String()
	}
	return message, code, errType
}

func marshal(v any) []byte {
	raw, err := sonic.Marshal(v)
	if err != nil {
		// All constructors below marshal plain structs; this cannot fail.
		panic(fmt.Sprintf("events: marshal: %v", err))
	}
	return raw
}

type audioEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type appendEvent struct {
	Type    string `json:"type"`
	Audio   string `json:"audio"`
	EventID string `json:"event_id"`
}

type bareEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

// Audio builds the client-facing audio event wrapping a base64 payload.
func Audio(b64 string) Event {
	return Event{Type: TypeAudio, Raw: marshal(audioEvent{Type: TypeAudio, Audio: b64})}
}

// InputAppend builds an input_audio_buffer.append event for upstream.
func InputAppend(b64 string) Event {
	return Event{Type: TypeInputAppend, Raw: marshal(appendEvent{Type: TypeInputAppend, Audio: b64})}
}

// InputCommit signals end of the buffered utterance upstream.
func InputCommit() Event {
	return Event{Type: TypeInputCommit, Raw: marshal(bareEvent{Type: TypeInputCommit})}
}

// InputClear resets the upstream input buffer.
func InputClear() Event {
	return Event{Type: TypeInputClear, Raw: marshal(bareEvent{Type: TypeInputClear})}
}

// ResponseCancel interrupts an in-flight upstream response.
func ResponseCancel() Event {
	return Event{Type: TypeResponseCancel, Raw: marshal(bareEvent{Type: TypeResponseCancel})}
}

type errorEvent struct {
	Type  string       `json:"type"`
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ErrorEnvelope builds the uniform error event surfaced to the client.
func ErrorEnvelope(message, code, errType string) Event {
	return Event{Type: TypeError, Raw: marshal(errorEvent{
		Type:  TypeError,
		Error: errorPayload{Message: message, Code: code, Type: errType},
	})}
}
