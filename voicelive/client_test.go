package voicelive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{
			"https rewritten to wss",
			"https://myres.cognitiveservices.azure.com",
			"wss://myres.cognitiveservices.azure.com/voice-live/realtime?api-version=2025-05-01-preview&model=gpt-4o",
		},
		{
			"trailing slash stripped",
			"https://myres.cognitiveservices.azure.com/",
			"wss://myres.cognitiveservices.azure.com/voice-live/realtime?api-version=2025-05-01-preview&model=gpt-4o",
		},
		{
			"http rewritten to ws",
			"http://localhost:9090",
			"ws://localhost:9090/voice-live/realtime?api-version=2025-05-01-preview&model=gpt-4o",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{Endpoint: tt.endpoint, APIVersion: "2025-05-01-preview"}
			if got := c.buildURL("gpt-4o"); got != tt.want {
				t.Errorf("buildURL() = %q\nwant %q", got, tt.want)
			}
		})
	}
}

// wsEcho upgrades and holds the connection open until the client closes.
func wsEcho(t *testing.T, gotHeader chan<- http.Header) http.Handler {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotHeader != nil {
			gotHeader <- r.Header.Clone()
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func TestConnectSendsAuthHeaders(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		token      string
		wantAuth   string
		wantAPIKey string
	}{
		{"api key", "secret-key", "", "", "secret-key"},
		{"bearer preferred", "secret-key", "tok123", "Bearer tok123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHeader := make(chan http.Header, 1)
			srv := httptest.NewServer(wsEcho(t, gotHeader))
			defer srv.Close()

			c := &Client{
				Endpoint:   srv.URL,
				APIVersion: "2025-05-01-preview",
				APIKey:     tt.apiKey,
				Token:      tt.token,
			}
			conn, err := c.Connect(context.Background(), "gpt-4o")
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer conn.Close()

			h := <-gotHeader
			if got := h.Get("Authorization"); got != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
			}
			if got := h.Get("api-key"); got != tt.wantAPIKey {
				t.Errorf("api-key = %q, want %q", got, tt.wantAPIKey)
			}
			if h.Get("x-ms-client-request-id") == "" {
				t.Error("x-ms-client-request-id header missing")
			}
		})
	}
}

func TestConnectValidation(t *testing.T) {
	c := &Client{Endpoint: "https://x.example.com", APIVersion: "v", APIKey: "k"}
	if _, err := c.Connect(context.Background(), ""); !errors.Is(err, ErrModelRequired) {
		t.Errorf("empty model: err = %v, want ErrModelRequired", err)
	}

	c = &Client{APIVersion: "v", APIKey: "k"}
	if _, err := c.Connect(context.Background(), "gpt-4o"); !errors.Is(err, ErrEndpointRequired) {
		t.Errorf("empty endpoint: err = %v, want ErrEndpointRequired", err)
	}
}

func TestSecondConnectRejected(t *testing.T) {
	srv := httptest.NewServer(wsEcho(t, nil))
	defer srv.Close()

	c := &Client{Endpoint: srv.URL, APIVersion: "v", APIKey: "k"}
	conn, err := c.Connect(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if _, err := c.Connect(context.Background(), "gpt-4o"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect err = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectFailureIsTyped(t *testing.T) {
	// Nothing is listening here.
	c := &Client{
		Endpoint:    "http://127.0.0.1:1",
		APIVersion:  "v",
		APIKey:      "k",
		DialTimeout: time.Second,
	}
	_, err := c.Connect(context.Background(), "gpt-4o")
	if err == nil {
		t.Fatal("Connect to dead endpoint succeeded")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *ConnectError", err)
	}
	if !strings.HasPrefix(ce.URL, "ws://") {
		t.Errorf("ConnectError.URL = %q, want ws scheme", ce.URL)
	}
}

func TestCloseIsIdempotentAndUnblocksRead(t *testing.T) {
	srv := httptest.NewServer(wsEcho(t, nil))
	defer srv.Close()

	c := &Client{Endpoint: srv.URL, APIVersion: "v", APIKey: "k"}
	conn, err := c.Connect(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.ReadEvent()
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the read block
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-readErr:
		if !errors.Is(err, ErrConnClosed) {
			t.Errorf("blocked read unblocked with %v, want ErrConnClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read did not unblock after Close")
	}

	if err := conn.WriteRaw([]byte(`{"type":"x"}`)); !errors.Is(err, ErrConnClosed) {
		t.Errorf("write after Close err = %v, want ErrConnClosed", err)
	}
}
