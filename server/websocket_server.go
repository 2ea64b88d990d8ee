package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voicelive-relay/config"
	"voicelive-relay/events"
	"voicelive-relay/metrics"
	"voicelive-relay/relay"
	"voicelive-relay/session"
	"voicelive-relay/voicelive"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	metrics        *metrics.Metrics
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, m *metrics.Metrics) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		metrics:        m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: websocket sessions outlive any fixed bound.
	}

	return s
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 WebSocket relay starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	log.Printf("🎯 Upstream endpoint: %s (model %s)", s.config.Endpoint, s.config.Model)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		log.Printf("Failed to create session: %v", err)
		ev := events.ErrorEnvelope(err.Error(), "session_unavailable", "relay_error")
		_ = conn.WriteMessage(websocket.TextMessage, ev.Raw)
		conn.Close()
		return
	}
	defer func() {
		_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
		}
	}()
	if s.metrics != nil {
		s.metrics.SessionsTotal.Inc()
		s.metrics.ActiveSessions.Inc()
	}

	log.Printf("✅ New session created: %s", clientSession.ID)

	if err := s.runSession(r.Context(), clientSession); err != nil {
		log.Printf("❌ Session %s ended with error: %v", clientSession.ID, err)
	}
	log.Printf("🔌 Session closed: %s", clientSession.ID)
}

// runSession drives one client session end to end: connect upstream,
// negotiate, then relay until either side goes away.
func (s *Server) runSession(ctx context.Context, clientSession *session.ClientSession) error {
	client := &voicelive.Client{
		Endpoint:    s.config.Endpoint,
		APIVersion:  s.config.APIVersion,
		APIKey:      s.config.APIKey,
		Token:       s.config.Token,
		DialTimeout: s.config.HandshakeTimeout,
	}

	upstream, err := client.Connect(ctx, s.config.Model)
	if err != nil {
		s.failSession(clientSession, "upstream unavailable", "upstream_connect_failed")
		s.handshakeOutcome("connect_error")
		return err
	}
	defer upstream.Close()

	cfg := events.DefaultSessionConfig(s.config.Instructions, s.config.VoiceName)
	sess, created, err := relay.Negotiate(upstream, cfg, s.config.HandshakeTimeout)
	if err != nil {
		s.handshakeOutcome(handshakeOutcomeLabel(err))
		s.failSession(clientSession, handshakeMessage(err), "handshake_failed")
		return err
	}
	s.handshakeOutcome("created")
	log.Printf("🤝 [%s] upstream session ready: %s", clientSession.ID, sess.ID)

	// Forward session.created so the client knows streaming may begin.
	if err := clientSession.WriteEvent(created); err != nil {
		return err
	}

	return relay.New(clientSession, upstream, s.config, s.metrics).Run()
}

// failSession tells the client why the session cannot proceed, then closes
// with a policy-violation frame so it will not blindly reconnect.
func (s *Server) failSession(clientSession *session.ClientSession, message, code string) {
	_ = clientSession.WriteEvent(events.ErrorEnvelope(message, code, "relay_error"))
	_ = clientSession.CloseWithReason(websocket.ClosePolicyViolation, code)
}

func handshakeOutcomeLabel(err error) string {
	var he *relay.HandshakeError
	switch {
	case errors.Is(err, relay.ErrHandshakeTimeout):
		return "timeout"
	case errors.As(err, &he):
		return "error"
	case errors.Is(err, relay.ErrUnexpectedHandshakeEvent):
		return "unexpected"
	default:
		return "failed"
	}
}

func handshakeMessage(err error) string {
	var he *relay.HandshakeError
	if errors.As(err, &he) {
		return he.Message
	}
	if errors.Is(err, relay.ErrHandshakeTimeout) {
		return "upstream did not confirm the session in time"
	}
	return "session negotiation failed"
}

func (s *Server) handshakeOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.HandshakeOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.ActiveCount())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.config.Endpoint == "" {
		http.Error(w, "upstream endpoint not configured", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}
