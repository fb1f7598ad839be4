package stream

import (
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/skypro1111/playout-audio-service/internal/adaptive"
	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/playout"
	"github.com/skypro1111/playout-audio-service/internal/quality"
)

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		Mode: adaptive.ModeBalanced,
		Thresholds: adaptive.Thresholds{
			HighLatencyMs:     150,
			HighJitterMs:      50,
			PacketLossPercent: 1.0,
		},
		ReevaluateInterval: 5 * time.Second,
		FrameIntervalMs:    20,
		Audio:              playout.AudioParams{SampleRate: 16000, Encoding: frame.EncodingPCM16},
		SessionTimeout:     time.Minute,
		OutputDir:          "",
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(slog.Default(), testManagerConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func testChunk() *frame.PlayPayload {
	return &frame.PlayPayload{AudioData: base64.StdEncoding.EncodeToString(make([]byte, 640))}
}

func TestCreateAndGetSession(t *testing.T) {
	m := newTestManager(t)

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if session.ID == "" {
		t.Error("Expected non-empty session ID")
	}
	if session.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("Unexpected remote addr: %s", session.RemoteAddr)
	}

	got, exists := m.GetSession(session.ID)
	if !exists {
		t.Fatal("Expected session to exist")
	}
	if got != session {
		t.Error("Expected same session instance")
	}

	if m.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", m.GetActiveSessionCount())
	}
}

func TestSessionIDsUnique(t *testing.T) {
	m := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		session, err := m.CreateSession("10.0.0.1:5000")
		if err != nil {
			t.Fatalf("Failed to create session %d: %v", i, err)
		}
		if seen[session.ID] {
			t.Errorf("Duplicate session ID: %s", session.ID)
		}
		seen[session.ID] = true
	}
}

func TestRemoveSession(t *testing.T) {
	m := newTestManager(t)

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if !m.RemoveSession(session.ID) {
		t.Error("Expected removal to succeed")
	}
	if _, exists := m.GetSession(session.ID); exists {
		t.Error("Expected session gone after removal")
	}
	if m.RemoveSession(session.ID) {
		t.Error("Expected second removal to fail")
	}
}

func TestProcessAudioChunkDirectPath(t *testing.T) {
	m := newTestManager(t)

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := session.ProcessAudioChunk(testChunk()); err != nil {
		t.Fatalf("ProcessAudioChunk failed: %v", err)
	}

	if session.ChunksReceived() != 1 {
		t.Errorf("Expected 1 chunk received, got %d", session.ChunksReceived())
	}

	info := session.GetSessionInfo()
	if info.BufferingEnabled {
		t.Error("Expected direct play on clean conditions")
	}
	if info.ChunksDirect != 1 {
		t.Errorf("Expected 1 direct chunk, got %d", info.ChunksDirect)
	}

	// Direct frames land in the sink immediately.
	if session.output.FramesWritten() != 1 {
		t.Errorf("Expected 1 frame in sink, got %d", session.output.FramesWritten())
	}
}

func TestConditionsUpdateSwitchesToBuffered(t *testing.T) {
	m := newTestManager(t)

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	session.UpdateNetworkConditions(quality.NetworkConditions{LatencyMs: 300})

	info := session.GetSessionInfo()
	if !info.BufferingEnabled {
		t.Fatal("Expected buffering enabled at 300ms latency")
	}

	if err := session.ProcessAudioChunk(testChunk()); err != nil {
		t.Fatalf("ProcessAudioChunk failed: %v", err)
	}

	info = session.GetSessionInfo()
	if info.ChunksBuffered != 1 {
		t.Errorf("Expected 1 buffered chunk, got %d", info.ChunksBuffered)
	}
}

func TestSessionActivityTracking(t *testing.T) {
	m := newTestManager(t)

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	before := session.GetSessionInfo().LastActivity
	time.Sleep(5 * time.Millisecond)

	if err := session.ProcessAudioChunk(testChunk()); err != nil {
		t.Fatalf("ProcessAudioChunk failed: %v", err)
	}

	after := session.GetSessionInfo().LastActivity
	if !after.After(before) {
		t.Error("Expected chunk processing to bump last activity")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	config := testManagerConfig()
	config.SessionTimeout = 10 * time.Millisecond

	m, err := NewManager(slog.Default(), config, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer m.Stop()

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	m.cleanupExpiredSessions()

	if _, exists := m.GetSession(session.ID); exists {
		t.Error("Expected expired session reaped")
	}
}

func TestStopClosesAllSessions(t *testing.T) {
	m, err := NewManager(slog.Default(), testManagerConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	m.Stop()

	if m.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 sessions after stop, got %d", m.GetActiveSessionCount())
	}

	// The session's controller is closed; further chunks error.
	if err := session.ProcessAudioChunk(testChunk()); err == nil {
		t.Error("Expected error processing chunks after stop")
	}
}

func TestWAVOutputPerSession(t *testing.T) {
	config := testManagerConfig()
	config.OutputDir = t.TempDir()

	m, err := NewManager(slog.Default(), config, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer m.Stop()

	session, err := m.CreateSession("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := session.ProcessAudioChunk(testChunk()); err != nil {
		t.Fatalf("ProcessAudioChunk failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for session.output.FramesWritten() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if session.output.FramesWritten() != 1 {
		t.Errorf("Expected 1 frame written to WAV sink, got %d", session.output.FramesWritten())
	}
}
