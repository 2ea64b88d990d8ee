// Package voicelive implements the websocket client for the Voice Live
// realtime API: URL construction, auth headers, and a connection wrapper
// with idempotent close.
package voicelive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const realtimePath = "/voice-live/realtime"

var (
	// ErrAlreadyConnected is returned by a second Connect call on the same client.
	ErrAlreadyConnected = errors.New("already connected to the Voice Live API")
	// ErrModelRequired is returned when Connect is called without a model name.
	ErrModelRequired = errors.New("model name is required")
	// ErrEndpointRequired is returned when the client has no endpoint configured.
	ErrEndpointRequired = errors.New("endpoint is required")
)

// ConnectError wraps a failed websocket dial. The relay never retries; the
// caller decides what to do.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("voicelive: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Client dials the Voice Live API. One client maps to at most one live
// connection; a second Connect call fails (misuse guard, not pooling).
type Client struct {
	Endpoint   string // base https endpoint, trailing slash tolerated
	APIVersion string
	APIKey     string
	Token      string // bearer credential, preferred over APIKey when set

	DialTimeout time.Duration

	mu   sync.Mutex
	conn *Conn
}

// Connect opens a websocket to the realtime endpoint for the given model.
func (c *Client) Connect(ctx context.Context, model string) (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil, ErrAlreadyConnected
	}
	if model == "" {
		return nil, ErrModelRequired
	}
	if c.Endpoint == "" {
		return nil, ErrEndpointRequired
	}

	wsURL := c.buildURL(model)

	header := http.Header{}
	header.Set("x-ms-client-request-id", uuid.New().String())
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	} else {
		header.Set("api-key", c.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.DialTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	ws, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, &ConnectError{URL: wsURL, Err: err}
	}

	c.conn = newConn(ws)
	return c.conn, nil
}

// buildURL produces {endpoint}/voice-live/realtime?api-version=..&model=..
// with the scheme rewritten to ws/wss.
func (c *Client) buildURL(model string) string {
	base := strings.TrimRight(c.Endpoint, "/") + realtimePath

	q := url.Values{}
	q.Set("api-version", c.APIVersion)
	q.Set("model", model)
	full := base + "?" + q.Encode()

	switch {
	case strings.HasPrefix(full, "https://"):
		full = "wss://" + strings.TrimPrefix(full, "https://")
	case strings.HasPrefix(full, "http://"):
		full = "ws://" + strings.TrimPrefix(full, "http://")
	}
	return full
}
