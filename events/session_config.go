package events

// SessionConfig is the configuration blob carried by a session.update event.
// Fields mirror the Voice Live session object; everything is passed through
// opaquely, only the event type is fixed.
type SessionConfig struct {
	Instructions            string            `json:"instructions,omitempty"`
	TurnDetection           *TurnDetection    `json:"turn_detection,omitempty"`
	InputAudioNoiseReduct   *TypedOption      `json:"input_audio_noise_reduction,omitempty"`
	InputAudioEchoCancel    *TypedOption      `json:"input_audio_echo_cancellation,omitempty"`
	Voice                   *VoiceConfig      `json:"voice,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type                     string                    `json:"type"`
	Threshold                float64                   `json:"threshold,omitempty"`
	PrefixPaddingMs          int                       `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs        int                       `json:"silence_duration_ms,omitempty"`
	RemoveFillerWords        bool                      `json:"remove_filler_words"`
	EndOfUtteranceDetection  *EndOfUtteranceDetection  `json:"end_of_utterance_detection,omitempty"`
}

// EndOfUtteranceDetection tunes the semantic end-of-turn detector.
type EndOfUtteranceDetection struct {
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold,omitempty"`
	Timeout   float64 `json:"timeout,omitempty"`
}

// TypedOption is a feature toggle identified only by its type string, e.g.
// azure_deep_noise_suppression or server_echo_cancellation.
type TypedOption struct {
	Type string `json:"type"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	Name        string  `json:"name"`
	Type        string  `json:"type,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
	EventID string        `json:"event_id"`
}

// SessionUpdate builds the session.update handshake event.
func SessionUpdate(cfg SessionConfig) Event {
	return Event{Type: TypeSessionUpdate, Raw: marshal(sessionUpdateEvent{
		Type:    TypeSessionUpdate,
		Session: cfg,
	})}
}

// DefaultSessionConfig is the session configuration used when the operator
// supplies no overrides, matching the assistant defaults.
func DefaultSessionConfig(instructions, voiceName string) SessionConfig {
	if instructions == "" {
		instructions = "You are a helpful AI assistant responding in natural, engaging language."
	}
	if voiceName == "" {
		voiceName = "en-US-Ava:DragonHDLatestNeural"
	}
	return SessionConfig{
		Instructions: instructions,
		TurnDetection: &TurnDetection{
			Type:              "azure_semantic_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			EndOfUtteranceDetection: &EndOfUtteranceDetection{
				Model:     "semantic_detection_v1",
				Threshold: 0.01,
				Timeout:   2,
			},
		},
		InputAudioNoiseReduct: &TypedOption{Type: "azure_deep_noise_suppression"},
		InputAudioEchoCancel:  &TypedOption{Type: "server_echo_cancellation"},
		Voice: &VoiceConfig{
			Name:        voiceName,
			Type:        "azure-standard",
			Temperature: 0.8,
		},
	}
}
