package adaptive

import (
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/playout"
	"github.com/skypro1111/playout-audio-service/internal/quality"
)

// countingSink records buffered-path sink invocations.
type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) play(_, _ string, _ frame.Encoding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func testControllerConfig(mode Mode) Config {
	return Config{
		Mode: mode,
		Thresholds: Thresholds{
			HighLatencyMs:     150,
			HighJitterMs:      50,
			PacketLossPercent: 1.0,
		},
		ReevaluateInterval: 5 * time.Second,
		FrameIntervalMs:    20,
		Audio:              playout.AudioParams{SampleRate: 16000, Encoding: frame.EncodingPCM16},
	}
}

func chunk20ms() *frame.PlayPayload {
	return &frame.PlayPayload{AudioData: base64.StdEncoding.EncodeToString(make([]byte, 640))}
}

func TestNewControllerInvalidMode(t *testing.T) {
	sink := &countingSink{}
	if _, err := NewController(Config{Mode: "bogus"}, sink.play, nil); err == nil {
		t.Error("Expected error for invalid mode")
	}
}

func TestDirectPathByDefault(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeBalanced), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	if c.BufferingEnabled() {
		t.Error("Expected direct play on clean initial conditions")
	}

	direct := 0
	err = c.ProcessAudioChunk(chunk20ms(), func(p *frame.PlayPayload) error {
		direct++
		return nil
	})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if direct != 1 {
		t.Errorf("Expected 1 direct play, got %d", direct)
	}
	if c.HasManager() {
		t.Error("Expected no playout manager on the direct path")
	}
}

func TestDirectPathForwardsError(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeBalanced), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	wantErr := fmt.Errorf("sink unavailable")
	err = c.ProcessAudioChunk(chunk20ms(), func(p *frame.PlayPayload) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("Expected direct-play error forwarded, got %v", err)
	}
}

func TestEndToEndModeSwitching(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeBalanced), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	// Latency above the 150ms threshold enables buffering.
	c.UpdateNetworkConditions(quality.NetworkConditions{LatencyMs: 200})
	if !c.BufferingEnabled() {
		t.Fatal("Expected buffering enabled at 200ms latency")
	}
	if !c.HasManager() {
		t.Fatal("Expected playout manager created on transition")
	}

	// A chunk lands in the manager's FIFO, not the direct path.
	direct := 0
	err = c.ProcessAudioChunk(chunk20ms(), func(p *frame.PlayPayload) error {
		direct++
		return nil
	})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if direct != 0 {
		t.Error("Expected no direct play while buffering")
	}
	if c.QueuedFrames() != 1 {
		t.Errorf("Expected 1 queued frame, got %d", c.QueuedFrames())
	}

	// Recovered latency forces re-evaluation and destroys the manager.
	c.UpdateNetworkConditions(quality.NetworkConditions{LatencyMs: 50})
	if c.BufferingEnabled() {
		t.Error("Expected buffering disabled at 50ms latency")
	}
	if c.HasManager() {
		t.Error("Expected playout manager destroyed on transition")
	}
}

func TestAdaptiveModeForcedByCriticalHealth(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeAdaptive), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	// Critically low buffer levels must force buffering regardless of
	// otherwise-healthy latency/jitter inputs.
	for i := 0; i < 5; i++ {
		c.ObserveBufferLevel(10)
	}
	c.UpdateNetworkConditions(quality.NetworkConditions{LatencyMs: 20, JitterMs: 1})

	if !c.BufferingEnabled() {
		t.Error("Expected adaptive mode to buffer under critical live health")
	}
}

func TestConsecutiveProblemStreak(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeBalanced), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	// Each update observing critical health increments the streak.
	c.ObserveBufferLevel(10)
	for i := 0; i < 3; i++ {
		c.UpdateNetworkConditions(quality.NetworkConditions{LatencyMs: 20})
	}
	if got := c.Stats().ConsecutiveProblems; got != 3 {
		t.Errorf("Expected streak of 3, got %d", got)
	}

	// The streak alone (problems > 2) is enough for the balanced strategy.
	if !c.BufferingEnabled() {
		t.Error("Expected buffering from problem streak alone")
	}
}

func TestPeriodicReevaluation(t *testing.T) {
	sink := &countingSink{}
	cfg := testControllerConfig(ModeBalanced)
	cfg.ReevaluateInterval = 50 * time.Millisecond
	cfg.Initial = &quality.NetworkConditions{LatencyMs: 200}

	c, err := NewController(cfg, sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	if !c.BufferingEnabled() {
		t.Fatal("Expected buffering from initial conditions")
	}

	// Conditions recover silently; processing a chunk before the window
	// elapses keeps the stale decision.
	c.mu.Lock()
	c.conditions = quality.NetworkConditions{LatencyMs: 20}
	c.mu.Unlock()

	if err := c.ProcessAudioChunk(chunk20ms(), nil); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !c.BufferingEnabled() {
		t.Error("Expected decision unchanged inside reevaluation window")
	}

	// After the window, the next chunk triggers re-evaluation.
	time.Sleep(60 * time.Millisecond)
	direct := 0
	if err := c.ProcessAudioChunk(chunk20ms(), func(p *frame.PlayPayload) error {
		direct++
		return nil
	}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if c.BufferingEnabled() {
		t.Error("Expected buffering disabled after periodic re-evaluation")
	}
	if direct != 1 {
		t.Errorf("Expected recovered chunk to go direct, got %d", direct)
	}
}

func TestHealthMetricsIdleWhenDirect(t *testing.T) {
	sink := &countingSink{}
	c, err := NewController(testControllerConfig(ModeBalanced), sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Close()

	metrics := c.HealthMetrics()
	if metrics.State != quality.HealthIdle {
		t.Errorf("Expected idle snapshot when direct, got %s", metrics.State)
	}
}

func TestBufferSizingFromConditions(t *testing.T) {
	thresholds := Thresholds{HighJitterMs: 50}

	tests := []struct {
		name       string
		conditions quality.NetworkConditions
		target     float64
		min        float64
		max        float64
	}{
		{name: "low latency", conditions: quality.NetworkConditions{LatencyMs: 50}, target: 240, min: 120, max: 480},
		{name: "medium latency", conditions: quality.NetworkConditions{LatencyMs: 150}, target: 300, min: 150, max: 600},
		{name: "high latency", conditions: quality.NetworkConditions{LatencyMs: 250}, target: 400, min: 200, max: 800},
		{name: "high jitter widens", conditions: quality.NetworkConditions{LatencyMs: 50, JitterMs: 60}, target: 360, min: 120, max: 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sizeBufferConfig(tt.conditions, thresholds, 20)
			if cfg.TargetBufferMs != tt.target || cfg.MinBufferMs != tt.min || cfg.MaxBufferMs != tt.max {
				t.Errorf("Got %f/%f/%f, want %f/%f/%f",
					cfg.TargetBufferMs, cfg.MinBufferMs, cfg.MaxBufferMs,
					tt.target, tt.min, tt.max)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Sized config failed validation: %v", err)
			}
		})
	}
}

func TestCloseTerminal(t *testing.T) {
	sink := &countingSink{}
	cfg := testControllerConfig(ModeBalanced)
	cfg.Initial = &quality.NetworkConditions{LatencyMs: 300}

	c, err := NewController(cfg, sink.play, nil)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}

	if !c.HasManager() {
		t.Fatal("Expected manager from initial high-latency conditions")
	}

	c.Close()
	if c.HasManager() {
		t.Error("Expected manager destroyed on close")
	}

	if err := c.ProcessAudioChunk(chunk20ms(), nil); err == nil {
		t.Error("Expected error processing chunks after close")
	}
}
