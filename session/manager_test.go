package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/config"
	"voicelive-relay/voicelive"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func testConfig() *config.Config {
	return &config.Config{
		MaxSessions:    4,
		SessionTimeout: time.Minute,
	}
}

// wsPair returns a server-side connection and its browser-side peer.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	browser, _, err := websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { browser.Close() })

	select {
	case ws := <-accepted:
		t.Cleanup(func() { ws.Close() })
		return ws, browser
	case <-time.After(2 * time.Second):
		t.Fatal("websocket pair never connected")
	}
	return nil, nil
}

func TestCreateAndRemoveSession(t *testing.T) {
	sm, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer sm.Shutdown()

	serverWS, _ := wsPair(t)
	sess, err := sm.CreateSession(context.Background(), serverWS)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Error("session has empty ID")
	}
	if sm.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", sm.ActiveCount())
	}

	got, ok := sm.GetSession(sess.ID)
	if !ok || got != sess {
		t.Error("GetSession did not return the created session")
	}

	if err := sm.RemoveSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if sm.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after removal, want 0", sm.ActiveCount())
	}
	if !sess.IsClosed() {
		t.Error("removed session is still open")
	}

	// Removing an unknown session is a no-op.
	if err := sm.RemoveSession(context.Background(), "nope"); err != nil {
		t.Errorf("RemoveSession(unknown) = %v", err)
	}
}

func TestCreateSessionRespectsCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	sm, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer sm.Shutdown()

	serverWS, _ := wsPair(t)
	if _, err := sm.CreateSession(context.Background(), serverWS); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}

	second, _ := wsPair(t)
	if _, err := sm.CreateSession(context.Background(), second); !errors.Is(err, ErrMaxSessions) {
		t.Errorf("second CreateSession = %v, want ErrMaxSessions", err)
	}
}

func TestCleanupInactiveSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	sm, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer sm.Shutdown()

	serverWS, _ := wsPair(t)
	sess, err := sm.CreateSession(context.Background(), serverWS)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	sm.CleanupInactiveSessions(context.Background())

	if sm.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after cleanup, want 0", sm.ActiveCount())
	}
	if !sess.IsClosed() {
		t.Error("swept session is still open")
	}
}

func TestSessionCloseIdempotentAndUnblocksRead(t *testing.T) {
	serverWS, _ := wsPair(t)
	sess := NewClientSession("abc", serverWS)

	readErr := make(chan error, 1)
	go func() {
		_, err := sess.ReadRaw()
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := sess.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	select {
	case err := <-readErr:
		if !errors.Is(err, voicelive.ErrConnClosed) {
			t.Errorf("ReadRaw after Close = %v, want ErrConnClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadRaw still blocked after Close")
	}

	select {
	case <-sess.CloseChan:
	default:
		t.Error("CloseChan not closed")
	}

	if err := sess.WriteRaw([]byte(`{}`)); !errors.Is(err, voicelive.ErrConnClosed) {
		t.Errorf("WriteRaw after Close = %v, want ErrConnClosed", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	serverWS, browser := wsPair(t)
	sess := NewClientSession("abc", serverWS)
	defer sess.Close()

	if err := browser.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio"}`)); err != nil {
		t.Fatalf("browser write: %v", err)
	}
	raw, err := sess.ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if string(raw) != `{"type":"audio"}` {
		t.Errorf("ReadRaw = %s", raw)
	}

	before := sess.LastSeen()
	if err := sess.WriteRaw([]byte(`{"type":"session.created"}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	browser.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = browser.ReadMessage()
	if err != nil {
		t.Fatalf("browser read: %v", err)
	}
	if string(raw) != `{"type":"session.created"}` {
		t.Errorf("browser received %s", raw)
	}
	if sess.LastSeen().Before(before) {
		t.Error("LastSeen went backwards")
	}
}
