package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/playout-audio-service/internal/config"
	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/metrics"
	"github.com/skypro1111/playout-audio-service/internal/protocol"
	"github.com/skypro1111/playout-audio-service/internal/stream"
)

// WSServer accepts WebSocket stream connections, one session per connection
type WSServer struct {
	server    *http.Server
	upgrader  websocket.Upgrader
	config    *config.ServerConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	metrics   *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Connection tracking
	conns map[*websocket.Conn]struct{}

	// Metrics (basic counters for now)
	messagesReceived  uint64
	messagesProcessed uint64
	parseErrors       uint64
	mu                sync.RWMutex
}

// NewWSServer creates a new WebSocket ingest server instance
func NewWSServer(cfg *config.ServerConfig, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics) *WSServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WSServer{
		config:    cfg,
		logger:    logger,
		streamMgr: streamMgr,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.GetHandshakeTimeout(),
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: mux,
	}

	return s
}

// Start begins listening for WebSocket connections
func (s *WSServer) Start() error {
	s.logger.Info("WebSocket server starting",
		slog.String("address", s.server.Addr),
		slog.Int("max_connections", s.config.MaxConnections),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the WebSocket server
func (s *WSServer) Stop() error {
	s.logger.Info("Stopping WebSocket server...")

	// Cancel context to signal connection handlers
	s.cancel()

	// Close open connections to unblock their read loops
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("Error shutting down WebSocket server", slog.String("error", err.Error()))
	}

	// Wait for all connection handlers to finish
	s.wg.Wait()

	s.mu.RLock()
	messagesReceived := s.messagesReceived
	messagesProcessed := s.messagesProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("WebSocket server stopped",
		slog.Uint64("messages_received", messagesReceived),
		slog.Uint64("messages_processed", messagesProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// handleStream upgrades one HTTP request into a stream connection
func (s *WSServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.activeConnections() >= s.config.MaxConnections {
		if s.metrics != nil {
			s.metrics.RecordConnectionRejected()
		}
		s.logger.Warn("Connection rejected, limit reached",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("max_connections", s.config.MaxConnections),
		)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordConnectionRejected()
		}
		s.logger.Error("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	conn.SetReadLimit(s.config.MaxMessageBytes)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordConnectionAccepted()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connectionLoop(conn, r.RemoteAddr)
	}()
}

// connectionLoop owns one connection: it creates the session, reads messages
// until the client disconnects, then tears the session down
func (s *WSServer) connectionLoop(conn *websocket.Conn, remoteAddr string) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()

		conn.Close()
		if s.metrics != nil {
			s.metrics.RecordConnectionClosed()
		}
	}()

	session, err := s.streamMgr.CreateSession(remoteAddr)
	if err != nil {
		s.logger.Error("Failed to create stream session",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		s.writeMessage(conn, protocol.ServerMessage{Type: "error", Error: "failed to create session"})
		return
	}
	defer s.streamMgr.RemoveSession(session.ID)

	if err := s.writeMessage(conn, protocol.ServerMessage{Type: "session", SessionID: session.ID}); err != nil {
		s.logger.Warn("Failed to send session greeting",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Stream connection established",
		slog.String("session_id", session.ID),
		slog.String("remote_addr", remoteAddr),
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Stream connection closed unexpectedly",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.mu.Lock()
		s.messagesReceived++
		s.mu.Unlock()

		if done := s.handleMessage(session, data); done {
			return
		}
	}
}

// handleMessage dispatches one inbound message. Returns true when the
// connection should close.
func (s *WSServer) handleMessage(session *stream.Session, data []byte) bool {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.recordParseError(session.ID, err)
		return false
	}

	switch msg.Type {
	case protocol.TypeAudio:
		if msg.TurnID != "" {
			session.SetTurnID(msg.TurnID)
		}
		payload := &frame.PlayPayload{
			AudioData: msg.AudioData,
			IsFirst:   msg.IsFirst,
			IsFinal:   msg.IsFinal,
		}
		if err := session.ProcessAudioChunk(payload); err != nil {
			s.logger.Warn("Failed to process audio chunk",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
			return false
		}

	case protocol.TypeConditions:
		session.UpdateNetworkConditions(*msg.Conditions)

	case protocol.TypeControl:
		// ParseMessage only admits the stop action.
		s.logger.Info("Client requested stop", slog.String("session_id", session.ID))
		s.mu.Lock()
		s.messagesProcessed++
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	s.messagesProcessed++
	s.mu.Unlock()

	return false
}

func (s *WSServer) recordParseError(sessionID string, err error) {
	s.mu.Lock()
	s.parseErrors++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordMessageError()
	}

	s.logger.Warn("Malformed stream message",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}

func (s *WSServer) writeMessage(conn *websocket.Conn, msg protocol.ServerMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.config.GetWriteTimeout()))
	return conn.WriteJSON(msg)
}

func (s *WSServer) activeConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// GetStatistics returns current server statistics
func (s *WSServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		MessagesReceived:  s.messagesReceived,
		MessagesProcessed: s.messagesProcessed,
		ParseErrors:       s.parseErrors,
		ActiveConnections: uint64(len(s.conns)),
		ActiveSessions:    uint64(s.streamMgr.GetActiveSessionCount()),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	ParseErrors       uint64 `json:"parse_errors"`
	ActiveConnections uint64 `json:"active_connections"`
	ActiveSessions    uint64 `json:"active_sessions"`
}
