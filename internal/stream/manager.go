package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/playout-audio-service/internal/adaptive"
	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/metrics"
	"github.com/skypro1111/playout-audio-service/internal/playout"
	"github.com/skypro1111/playout-audio-service/internal/quality"
	"github.com/skypro1111/playout-audio-service/internal/sink"
)

// adjustmentInterval paces the per-session adaptive adjustment loop.
const adjustmentInterval = time.Second

// Session represents one active audio stream with its own adaptive
// controller and playback sink
type Session struct {
	ID           string
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	controller *adaptive.Controller
	output     sink.Sink
	encoding   frame.Encoding

	// Chunk accounting
	chunksReceived uint64
	directPlayed   uint64

	// Processing control
	processingCtx    context.Context
	processingCancel context.CancelFunc
	processingWG     sync.WaitGroup

	manager *Manager

	mu sync.RWMutex
}

// Manager manages all active stream sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig
	metrics  *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	Mode               adaptive.Mode
	Thresholds         adaptive.Thresholds
	ReevaluateInterval time.Duration
	FrameIntervalMs    float64
	Audio              playout.AudioParams
	SessionTimeout     time.Duration
	OutputDir          string
}

// NewManager creates a new stream manager
func NewManager(logger *slog.Logger, config ManagerConfig, m *metrics.Metrics) (*Manager, error) {
	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", config.OutputDir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		config:   config,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a new stream session with its own controller and sink
func (m *Manager) CreateSession(remoteAddr string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID := uuid.NewString()

	output, err := m.newSinkLocked(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback sink: %w", err)
	}

	controller, err := adaptive.NewController(adaptive.Config{
		Mode:               m.config.Mode,
		Thresholds:         m.config.Thresholds,
		ReevaluateInterval: m.config.ReevaluateInterval,
		FrameIntervalMs:    m.config.FrameIntervalMs,
		Audio:              m.config.Audio,
	}, output.Play, m.logger.With(slog.String("session_id", sessionID)))
	if err != nil {
		output.Close()
		return nil, fmt.Errorf("failed to create adaptive controller: %w", err)
	}

	processingCtx, processingCancel := context.WithCancel(m.ctx)

	now := time.Now()
	session := &Session{
		ID:           sessionID,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,

		controller: controller,
		output:     output,
		encoding:   m.config.Audio.Encoding,

		processingCtx:    processingCtx,
		processingCancel: processingCancel,

		manager: m,
	}

	m.sessions[sessionID] = session

	session.startAdjustmentLoop(m.logger)

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created new stream session",
		slog.String("session_id", sessionID),
		slog.String("remote_addr", remoteAddr),
		slog.String("mode", string(m.config.Mode)),
	)

	return session, nil
}

// newSinkLocked builds the session's playback sink: a WAV file when an
// output directory is configured, a discarding sink otherwise.
func (m *Manager) newSinkLocked(sessionID string) (sink.Sink, error) {
	if m.config.OutputDir == "" {
		return sink.NewNullSink(), nil
	}

	path := filepath.Join(m.config.OutputDir, fmt.Sprintf("session-%s.wav", sessionID))
	return sink.NewWAVSink(path, m.config.Audio.SampleRate, m.config.Audio.Encoding, m.logger)
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// RemoveSession removes a stream session and stops its processing
func (m *Manager) RemoveSession(sessionID string) bool {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	remaining := len(m.sessions)
	m.mu.Unlock()

	session.stop()

	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(time.Since(session.StartTime).Seconds())
		m.metrics.SetActiveSessions(remaining)

		stats := session.controller.Stats()
		m.metrics.RecordBufferEvents(stats.Underruns, stats.Overruns)
		m.metrics.RecordPlayback(session.output.FramesWritten(), stats.FramesDropped)
		m.metrics.RecordModeTransitions(stats.ModeTransitions)
	}

	m.logger.Info("Stream session removed",
		slog.String("session_id", sessionID),
		slog.Duration("duration", time.Since(session.StartTime)),
		slog.Uint64("chunks_received", session.ChunksReceived()),
		slog.Uint64("frames_written", session.output.FramesWritten()),
	)

	return true
}

// Stop gracefully stops the stream manager
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	// Stop all sessions first
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.stop()
	}

	// Cancel context to stop cleanup routine
	m.cancel()

	// Wait for cleanup routine to finish
	<-m.cleanup

	m.logger.Info("Stream manager stopped",
		slog.Int("sessions_closed", len(sessions)),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", 30*time.Second),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for sessionID, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.SessionTimeout {
			expired = append(expired, sessionID)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, sessionID := range expired {
			m.RemoveSession(sessionID)
		}
	}
}

// ProcessAudioChunk routes one incoming chunk through the session's adaptive
// controller, which dispatches it to either the buffered or the direct path
func (s *Session) ProcessAudioChunk(payload *frame.PlayPayload) error {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.chunksReceived++
	s.mu.Unlock()

	if s.manager.metrics != nil {
		s.manager.metrics.RecordChunkReceived()
	}

	err := s.controller.ProcessAudioChunk(payload, s.directPlay)

	if s.manager.metrics != nil {
		s.manager.metrics.RecordChunkRouted(s.controller.BufferingEnabled())
	}

	return err
}

// UpdateNetworkConditions feeds a client-reported conditions snapshot into
// the controller, forcing an immediate buffering re-evaluation
func (s *Session) UpdateNetworkConditions(conditions quality.NetworkConditions) {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()

	s.controller.UpdateNetworkConditions(conditions)
}

// SetTurnID sets the turn context used in playback identifiers
func (s *Session) SetTurnID(turnID string) {
	s.controller.SetTurnID(turnID)
}

// ChunksReceived returns the total number of chunks this session has seen
func (s *Session) ChunksReceived() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksReceived
}

// directPlay hands an unbuffered chunk straight to the playback sink
func (s *Session) directPlay(payload *frame.PlayPayload) error {
	s.mu.Lock()
	s.directPlayed++
	n := s.directPlayed
	s.mu.Unlock()

	return s.output.Play(payload.AudioData, fmt.Sprintf("direct-%d", n), s.encoding)
}

// startAdjustmentLoop starts the periodic adaptive adjustment pass
func (s *Session) startAdjustmentLoop(logger *slog.Logger) {
	s.processingWG.Add(1)
	go func() {
		defer s.processingWG.Done()
		s.adjustmentLoop(logger)
	}()
}

// adjustmentLoop periodically applies buffer adjustments and feeds buffer
// depth observations back into the controller
func (s *Session) adjustmentLoop(logger *slog.Logger) {
	ticker := time.NewTicker(adjustmentInterval)
	defer ticker.Stop()

	logger.Debug("Adjustment loop started", slog.String("session_id", s.ID))

	for {
		select {
		case <-s.processingCtx.Done():
			logger.Debug("Adjustment loop stopping", slog.String("session_id", s.ID))
			return

		case <-ticker.C:
			s.controller.ApplyAdaptiveAdjustments()

			health := s.controller.HealthMetrics()
			if health.State != quality.HealthIdle {
				s.controller.ObserveBufferLevel(health.CurrentBufferMs)
				if s.manager.metrics != nil {
					s.manager.metrics.ObserveBufferLevel(health.CurrentBufferMs)
				}
			}
		}
	}
}

// stop tears down the session's processing loop, controller and sink
func (s *Session) stop() {
	s.processingCancel()
	s.processingWG.Wait()

	s.controller.Close()

	if err := s.output.Close(); err != nil {
		s.manager.logger.Warn("Error closing playback sink",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetSessionInfo returns session information for monitoring APIs
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	chunksReceived := s.chunksReceived
	lastActivity := s.LastActivity
	s.mu.RUnlock()

	stats := s.controller.Stats()
	health := s.controller.HealthMetrics()

	return SessionInfo{
		SessionID:    s.ID,
		RemoteAddr:   s.RemoteAddr,
		StartTime:    s.StartTime,
		LastActivity: lastActivity,
		Duration:     time.Since(s.StartTime),

		ChunksReceived:   chunksReceived,
		FramesWritten:    s.output.FramesWritten(),
		Mode:             stats.Mode,
		BufferingEnabled: stats.BufferingEnabled,
		ChunksBuffered:   stats.ChunksBuffered,
		ChunksDirect:     stats.ChunksDirect,
		ModeTransitions:  stats.ModeTransitions,
		Conditions:       stats.Conditions,
		Health:           health,
	}
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	SessionID    string        `json:"session_id"`
	RemoteAddr   string        `json:"remote_addr"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	ChunksReceived   uint64                    `json:"chunks_received"`
	FramesWritten    uint64                    `json:"frames_written"`
	Mode             adaptive.Mode             `json:"mode"`
	BufferingEnabled bool                      `json:"buffering_enabled"`
	ChunksBuffered   uint64                    `json:"chunks_buffered"`
	ChunksDirect     uint64                    `json:"chunks_direct"`
	ModeTransitions  uint64                    `json:"mode_transitions"`
	Conditions       quality.NetworkConditions `json:"conditions"`
	Health           quality.HealthMetrics     `json:"health"`
}
