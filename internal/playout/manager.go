package playout

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/quality"
)

// Sink accepts one frame's audio for playback. Implementations must accept
// and return promptly (queue internally, complete asynchronously); the pacing
// loop invokes the sink synchronously and never awaits completion. A returned
// error is logged and otherwise swallowed so one failed frame cannot stall
// the schedule.
type Sink func(audioData string, playbackID string, encoding frame.Encoding) error

// Config contains the pacing parameters of one playout buffer.
type Config struct {
	TargetBufferMs  float64 `yaml:"target_ms"`
	MinBufferMs     float64 `yaml:"min_ms"`
	MaxBufferMs     float64 `yaml:"max_ms"`
	FrameIntervalMs float64 `yaml:"frame_interval_ms"`
}

// Validate checks the min <= target <= max ordering and the pacing interval.
func (c *Config) Validate() error {
	if c.FrameIntervalMs <= 0 {
		return fmt.Errorf("frame_interval_ms must be positive, got %f", c.FrameIntervalMs)
	}
	if c.MinBufferMs < 0 {
		return fmt.Errorf("min_ms cannot be negative, got %f", c.MinBufferMs)
	}
	if c.TargetBufferMs < c.MinBufferMs {
		return fmt.Errorf("target_ms (%f) must be at least min_ms (%f)", c.TargetBufferMs, c.MinBufferMs)
	}
	if c.MaxBufferMs < c.TargetBufferMs {
		return fmt.Errorf("max_ms (%f) must be at least target_ms (%f)", c.MaxBufferMs, c.TargetBufferMs)
	}
	return nil
}

// AudioParams describes the PCM format frames are interpreted as.
type AudioParams struct {
	SampleRate int
	Encoding   frame.Encoding
}

const (
	// fillPollInterval is how often the startup wait re-checks buffer depth.
	fillPollInterval = 50 * time.Millisecond

	// startupCapMs bounds the initial fill wait so first audio is not
	// delayed indefinitely by a large target.
	startupCapMs = 200

	// overrunSlackMs is how far past MaxBufferMs the buffer may grow before
	// frames are dropped.
	overrunSlackMs = 100

	// minTickDelay floors the drift-corrected reschedule delay.
	minTickDelay = time.Millisecond
)

// queuedFrame wraps a parsed frame with playout bookkeeping.
type queuedFrame struct {
	frame.Frame
	silence bool
}

// Manager owns the enqueue/playback lifecycle for one stream's buffered
// audio. It exclusively owns its FIFO, frame processor and quality monitor;
// all three are created together and released on Destroy.
type Manager struct {
	audio     AudioParams
	processor *frame.Processor
	monitor   *quality.Monitor
	sink      Sink
	logger    *slog.Logger

	mu         sync.Mutex
	config     Config
	queue      []queuedFrame
	bufferedMs float64
	turnID     string
	playing    bool
	destroyed  bool
	timer      *time.Timer
	stopFill   chan struct{}
	expected   time.Time
	silenceSeq uint64

	framesPlayed  uint64
	framesDropped uint64
}

// NewManager creates a playout manager delivering frames to the given sink.
func NewManager(config Config, audio AudioParams, sink Sink, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid playout config: %w", err)
	}
	if sink == nil {
		return nil, fmt.Errorf("playout sink cannot be nil")
	}
	if audio.SampleRate <= 0 {
		audio.SampleRate = 16000
	}
	if !audio.Encoding.Valid() {
		audio.Encoding = frame.EncodingPCM16
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		audio:  audio,
		config: config,
		processor: frame.NewProcessor(frame.ProcessorConfig{
			SampleRate:      audio.SampleRate,
			Encoding:        audio.Encoding,
			FrameIntervalMs: config.FrameIntervalMs,
		}, logger),
		monitor: quality.NewMonitor(config.FrameIntervalMs),
		sink:    sink,
		logger:  logger,
	}, nil
}

// SetTurnID sets the turn context used to derive playback identifiers.
func (m *Manager) SetTurnID(turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnID = turnID
}

// EnqueueFrames parses a payload and appends the resulting frames to the
// FIFO. Returns the number of frames enqueued; malformed payloads enqueue
// nothing and are not an error.
func (m *Manager) EnqueueFrames(payload *frame.PlayPayload) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return 0
	}

	frames := m.processor.ParseChunk(payload)
	for _, f := range frames {
		m.queue = append(m.queue, queuedFrame{Frame: f})
		m.monitor.RecordArrival(f.Timestamp)
	}

	m.recomputeBufferedLocked()

	if m.bufferedMs > m.config.MaxBufferMs {
		m.handleOverrunLocked()
	}

	return len(frames)
}

// StartPlayback activates the pacing loop. Idempotent: a second call while
// active is a no-op. Playback waits until buffered depth reaches
// min(target, 200ms) before the first tick, absorbing startup burstiness
// without delaying first audio indefinitely.
func (m *Manager) StartPlayback() {
	m.mu.Lock()
	if m.playing || m.destroyed {
		m.mu.Unlock()
		return
	}
	m.playing = true
	stop := make(chan struct{})
	m.stopFill = stop
	m.mu.Unlock()

	m.logger.Debug("Playback starting, waiting for initial buffer fill")

	go m.waitForFill(stop)
}

// StopPlayback deactivates the pacing loop, cancels the pending tick, clears
// the FIFO and resets sequence numbering.
func (m *Manager) StopPlayback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Destroy stops playback and marks the manager terminal. A destroyed manager
// ignores all further enqueue/start calls.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.destroyed = true
}

func (m *Manager) stopLocked() {
	m.playing = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.stopFill != nil {
		close(m.stopFill)
		m.stopFill = nil
	}
	m.queue = nil
	m.bufferedMs = 0
	m.processor.Reset()
}

// ApplyAdaptiveAdjustments pulls a recommendation from the quality monitor
// and applies it to the target depth, clamped to [min, max]. Policy-driven:
// the manager never invokes this on its own.
func (m *Manager) ApplyAdaptiveAdjustments() {
	adjustment := m.monitor.RecommendedAdjustment()
	if adjustment == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.config.TargetBufferMs
	target := previous + adjustment
	if target < m.config.MinBufferMs {
		target = m.config.MinBufferMs
	}
	if target > m.config.MaxBufferMs {
		target = m.config.MaxBufferMs
	}
	m.config.TargetBufferMs = target

	m.logger.Info("Applied adaptive buffer adjustment",
		slog.Float64("adjustment_ms", adjustment),
		slog.Float64("previous_target_ms", previous),
		slog.Float64("target_ms", target),
	)
}

// HealthMetrics returns an on-demand snapshot of buffer health.
func (m *Manager) HealthMetrics() quality.HealthMetrics {
	m.mu.Lock()
	playing := m.playing
	buffered := m.bufferedMs
	target := m.config.TargetBufferMs
	m.mu.Unlock()

	snapshot := m.monitor.Snapshot(playing)
	snapshot.CurrentBufferMs = buffered
	snapshot.TargetBufferMs = target
	return snapshot
}

// BufferedMs returns the currently buffered audio depth in milliseconds.
func (m *Manager) BufferedMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bufferedMs
}

// QueueLen returns the number of frames waiting in the FIFO.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// IsPlaying reports whether the pacing loop is active.
func (m *Manager) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// TargetBufferMs returns the current (possibly adjusted) target depth.
func (m *Manager) TargetBufferMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.TargetBufferMs
}

// FramesPlayed returns the number of frames handed to the sink.
func (m *Manager) FramesPlayed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesPlayed
}

// FramesDropped returns the number of frames evicted by overrun handling.
func (m *Manager) FramesDropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesDropped
}

// waitForFill polls until the buffer reaches the startup threshold, then
// arms the pacing loop.
func (m *Manager) waitForFill(stop chan struct{}) {
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		if !m.playing {
			m.mu.Unlock()
			return
		}

		threshold := m.config.TargetBufferMs
		if threshold > startupCapMs {
			threshold = startupCapMs
		}

		if m.bufferedMs >= threshold {
			interval := m.intervalLocked()
			m.expected = time.Now().Add(interval)
			m.timer = time.AfterFunc(interval, m.tick)
			m.mu.Unlock()

			m.logger.Debug("Initial buffer filled, pacing loop armed",
				slog.Float64("buffered_ms", m.BufferedMs()),
			)
			return
		}
		m.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// tick runs one pacing step and re-arms the timer with a drift-corrected
// delay. The reschedule happens before any sink invocation so a slow sink
// cannot skew the schedule.
func (m *Manager) tick() {
	m.mu.Lock()
	if !m.playing {
		m.mu.Unlock()
		return
	}

	due := m.stepLocked()

	// next delay = interval - (now - expected tick time), floored at 1ms.
	// Self-rescheduling against the expected timeline prevents cumulative
	// skew from scheduler jitter.
	interval := m.intervalLocked()
	m.expected = m.expected.Add(interval)
	delay := time.Until(m.expected)
	if delay < minTickDelay {
		delay = minTickDelay
	}
	m.timer = time.AfterFunc(delay, m.tick)
	m.mu.Unlock()

	for _, d := range due {
		if err := m.sink(d.audioData, d.playbackID, m.audio.Encoding); err != nil {
			m.logger.Warn("Playback sink rejected frame",
				slog.String("playback_id", d.playbackID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch is one sink invocation owed by a pacing step.
type dispatch struct {
	audioData  string
	playbackID string
}

// stepLocked performs one pacing step: records the buffer level, handles
// underrun, or schedules 1-3 frames for playback depending on fullness.
func (m *Manager) stepLocked() []dispatch {
	m.recomputeBufferedLocked()
	m.monitor.RecordBufferLevel(m.bufferedMs)

	if m.bufferedMs < m.config.MinBufferMs {
		m.handleUnderrunLocked()
		return nil
	}

	// Drain faster when comfortably buffered, conserve when near minimum.
	framesToPlay := 2
	switch {
	case m.bufferedMs > m.config.TargetBufferMs:
		framesToPlay = 3
	case m.bufferedMs < m.config.MinBufferMs+m.config.FrameIntervalMs:
		framesToPlay = 1
	}

	due := make([]dispatch, 0, framesToPlay)
	for i := 0; i < framesToPlay && len(m.queue) > 0; i++ {
		due = append(due, m.popFrameLocked())
	}
	m.recomputeBufferedLocked()

	return due
}

// popFrameLocked removes the oldest frame and derives its playback
// identifier.
func (m *Manager) popFrameLocked() dispatch {
	f := m.queue[0]
	m.queue = m.queue[1:]
	m.framesPlayed++

	kind := "frame"
	if f.silence {
		kind = "silence"
	}

	var playbackID string
	if m.turnID != "" {
		playbackID = fmt.Sprintf("%s-%s-%d", m.turnID, kind, f.SequenceNumber)
	} else {
		playbackID = fmt.Sprintf("buffered-%s-%d", kind, f.SequenceNumber)
	}

	return dispatch{audioData: f.AudioData, playbackID: playbackID}
}

// handleUnderrunLocked records the event and prepends one frame interval of
// silence so playback continues without an audible gap.
func (m *Manager) handleUnderrunLocked() {
	m.monitor.RecordUnderrun()

	silence := queuedFrame{
		Frame: frame.Frame{
			SequenceNumber: m.silenceSeq,
			AudioData:      m.silencePayloadLocked(),
			DurationMs:     m.config.FrameIntervalMs,
			Timestamp:      time.Now(),
		},
		silence: true,
	}
	m.silenceSeq++

	m.queue = append([]queuedFrame{silence}, m.queue...)
	m.recomputeBufferedLocked()

	m.logger.Debug("Buffer underrun, injected silence frame",
		slog.Float64("buffered_ms", m.bufferedMs),
		slog.Float64("min_ms", m.config.MinBufferMs),
	)
}

// handleOverrunLocked records the event and, once the excess passes the
// slack, evicts whole oldest frames to bound buffered latency.
func (m *Manager) handleOverrunLocked() {
	m.monitor.RecordOverrun()

	excess := m.bufferedMs - m.config.MaxBufferMs
	if excess <= overrunSlackMs {
		return
	}

	drop := int(excess / m.config.FrameIntervalMs)
	if drop > len(m.queue) {
		drop = len(m.queue)
	}
	if drop == 0 {
		return
	}

	m.queue = m.queue[drop:]
	m.framesDropped += uint64(drop)
	m.recomputeBufferedLocked()

	m.logger.Warn("Buffer overrun, dropped oldest frames",
		slog.Int("dropped_frames", drop),
		slog.Float64("buffered_ms", m.bufferedMs),
		slog.Float64("max_ms", m.config.MaxBufferMs),
	)
}

// silencePayloadLocked synthesizes one frame interval of zeroed samples,
// sized by the configured sample rate and encoding.
func (m *Manager) silencePayloadLocked() string {
	samples := int(m.config.FrameIntervalMs * float64(m.audio.SampleRate) / 1000)
	raw := make([]byte, samples*m.audio.Encoding.BytesPerSample())
	return base64.StdEncoding.EncodeToString(raw)
}

func (m *Manager) recomputeBufferedLocked() {
	total := 0.0
	for _, f := range m.queue {
		total += f.DurationMs
	}
	m.bufferedMs = total
}

func (m *Manager) intervalLocked() time.Duration {
	return time.Duration(m.config.FrameIntervalMs * float64(time.Millisecond))
}
