package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all relay configuration
type Config struct {
	Port int

	// Upstream Voice Live API
	Endpoint   string // required
	Model      string
	APIVersion string
	APIKey     string // required unless Token is set
	Token      string // bearer credential, preferred when set

	// Session blob knobs
	Instructions string
	VoiceName    string

	// Relay behavior
	HandshakeTimeout  time.Duration
	ClientIdleTimeout time.Duration
	SampleRate        int
	ChunkDuration     time.Duration
	SilencePad        time.Duration // 0 disables trailing-silence padding
	MaxBufferSize     int           // max accumulated audio bytes per session

	// Registry
	RedisURL       string
	RedisPassword  string
	MaxSessions    int
	SessionTimeout time.Duration

	AllowedOrigins []string
}

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:              8080,
		Model:             "gpt-4o",
		APIVersion:        "2025-05-01-preview",
		HandshakeTimeout:  10 * time.Second,
		ClientIdleTimeout: 30 * time.Second,
		SampleRate:        24000,
		ChunkDuration:     100 * time.Millisecond,
		MaxBufferSize:     5 * 1024 * 1024,
		RedisURL:          "localhost:6379",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
	}

	// Required: AZURE_VOICE_LIVE_ENDPOINT
	config.Endpoint = os.Getenv("AZURE_VOICE_LIVE_ENDPOINT")
	if config.Endpoint == "" {
		return nil, fmt.Errorf("AZURE_VOICE_LIVE_ENDPOINT environment variable is required")
	}

	// Credentials: bearer token preferred, api key otherwise
	config.Token = os.Getenv("AZURE_VOICE_LIVE_TOKEN")
	config.APIKey = os.Getenv("AZURE_VOICE_LIVE_API_KEY")
	if config.APIKey == "" && config.Token == "" {
		return nil, fmt.Errorf("AZURE_VOICE_LIVE_API_KEY (or AZURE_VOICE_LIVE_TOKEN) environment variable is required")
	}

	if model := os.Getenv("VOICE_LIVE_MODEL"); model != "" {
		config.Model = model
	}

	if version := os.Getenv("AZURE_VOICE_LIVE_API_VERSION"); version != "" {
		config.APIVersion = version
	}

	config.Instructions = os.Getenv("INSTRUCTIONS")
	config.VoiceName = os.Getenv("VOICE_NAME")

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if timeout := os.Getenv("HANDSHAKE_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid HANDSHAKE_TIMEOUT: %w", err)
		}
		config.HandshakeTimeout = time.Duration(t) * time.Second
	}

	if idle := os.Getenv("CLIENT_IDLE_TIMEOUT"); idle != "" {
		t, err := strconv.Atoi(idle)
		if err != nil {
			return nil, fmt.Errorf("invalid CLIENT_IDLE_TIMEOUT: %w", err)
		}
		config.ClientIdleTimeout = time.Duration(t) * time.Second
	}

	if rate := os.Getenv("SAMPLE_RATE"); rate != "" {
		r, err := strconv.Atoi(rate)
		if err != nil {
			return nil, fmt.Errorf("invalid SAMPLE_RATE: %w", err)
		}
		config.SampleRate = r
	}

	if chunk := os.Getenv("CHUNK_MS"); chunk != "" {
		c, err := strconv.Atoi(chunk)
		if err != nil {
			return nil, fmt.Errorf("invalid CHUNK_MS: %w", err)
		}
		config.ChunkDuration = time.Duration(c) * time.Millisecond
	}

	if pad := os.Getenv("SILENCE_PAD_MS"); pad != "" {
		p, err := strconv.Atoi(pad)
		if err != nil {
			return nil, fmt.Errorf("invalid SILENCE_PAD_MS: %w", err)
		}
		config.SilencePad = time.Duration(p) * time.Millisecond
	}

	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		config.MaxBufferSize = b
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}
