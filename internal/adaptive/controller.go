package adaptive

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/playout"
	"github.com/skypro1111/playout-audio-service/internal/quality"
)

// DirectPlay hands a chunk straight to the playback sink, bypassing
// buffering. Its error is the only one the chunk producer ever sees.
type DirectPlay func(payload *frame.PlayPayload) error

// defaultReevaluateInterval is the minimum spacing between periodic
// buffering-decision re-evaluations inside ProcessAudioChunk.
const defaultReevaluateInterval = 5 * time.Second

// Config configures one adaptive controller.
type Config struct {
	Mode               Mode
	Thresholds         Thresholds
	ReevaluateInterval time.Duration
	FrameIntervalMs    float64
	Audio              playout.AudioParams

	// Initial optionally seeds network conditions before the first chunk.
	Initial *quality.NetworkConditions
}

// Stats is a monitoring snapshot of one controller.
type Stats struct {
	Mode                Mode                      `json:"mode"`
	BufferingEnabled    bool                      `json:"buffering_enabled"`
	ConsecutiveProblems int                       `json:"consecutive_problems"`
	ChunksBuffered      uint64                    `json:"chunks_buffered"`
	ChunksDirect        uint64                    `json:"chunks_direct"`
	FramesPlayed        uint64                    `json:"frames_played"`
	FramesDropped       uint64                    `json:"frames_dropped"`
	Underruns           uint64                    `json:"underruns"`
	Overruns            uint64                    `json:"overruns"`
	ModeTransitions     uint64                    `json:"mode_transitions"`
	Conditions          quality.NetworkConditions `json:"conditions"`
}

// Controller routes chunks either through an owned playout manager or to the
// direct-play callback, re-evaluating the choice on construction, every
// reevaluation interval during chunk processing, and on every explicit
// conditions update.
type Controller struct {
	config   Config
	strategy Strategy
	sink     playout.Sink
	logger   *slog.Logger

	// monitor is the long-lived network observer used for decisions,
	// independent of any specific playout manager instance.
	monitor *quality.Monitor

	mu                  sync.Mutex
	conditions          quality.NetworkConditions
	consecutiveProblems int
	bufferingEnabled    bool
	manager             *playout.Manager
	turnID              string
	lastEvaluation      time.Time
	closed              bool

	chunksBuffered  uint64
	chunksDirect    uint64
	modeTransitions uint64

	// Accumulated across manager lifecycles.
	framesPlayed  uint64
	framesDropped uint64
	underruns     uint64
	overruns      uint64
}

// NewController creates a controller and evaluates the buffering decision
// once against the initial conditions.
func NewController(config Config, sink playout.Sink, logger *slog.Logger) (*Controller, error) {
	if !config.Mode.Valid() {
		return nil, fmt.Errorf("invalid buffering mode %q", config.Mode)
	}
	if sink == nil {
		return nil, fmt.Errorf("playback sink cannot be nil")
	}
	if config.ReevaluateInterval <= 0 {
		config.ReevaluateInterval = defaultReevaluateInterval
	}
	if config.FrameIntervalMs <= 0 {
		config.FrameIntervalMs = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	strategy, err := NewStrategy(config.Mode, config.Thresholds)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		config:   config,
		strategy: strategy,
		sink:     sink,
		logger:   logger,
		monitor:  quality.NewMonitor(config.FrameIntervalMs),
	}

	if config.Initial != nil {
		c.conditions = *config.Initial
	}

	c.mu.Lock()
	c.evaluateLocked(true)
	c.mu.Unlock()

	return c, nil
}

// SetTurnID sets the turn context propagated to the playout manager.
func (c *Controller) SetTurnID(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turnID = turnID
	if c.manager != nil {
		c.manager.SetTurnID(turnID)
	}
}

// UpdateNetworkConditions replaces the conditions snapshot, updates the
// problem streak, and forces an immediate re-evaluation.
func (c *Controller) UpdateNetworkConditions(conditions quality.NetworkConditions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.conditions = conditions
	c.updateProblemStreakLocked()
	c.evaluateLocked(true)
}

// ObserveBufferLevel feeds a playback buffer depth observation into the
// long-lived network monitor, keeping decision inputs alive even while no
// playout manager exists.
func (c *Controller) ObserveBufferLevel(levelMs float64) {
	c.monitor.RecordBufferLevel(levelMs)
}

// ProcessAudioChunk is the single entry point per incoming chunk. It updates
// the observed conditions, periodically re-evaluates the buffering decision,
// then dispatches to exactly one of the buffered or direct paths.
func (c *Controller) ProcessAudioChunk(payload *frame.PlayPayload, direct DirectPlay) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller is closed")
	}

	c.monitor.RecordArrival(time.Now())
	c.conditions.JitterMs = c.monitor.AverageJitterMs()

	c.evaluateLocked(false)

	if c.bufferingEnabled {
		if manager := c.ensureManagerLocked(); manager != nil {
			c.chunksBuffered++
			c.mu.Unlock()

			manager.EnqueueFrames(payload)
			return nil
		}
	}

	// Direct path: lazily tear down a leftover manager, then hand the chunk
	// to the caller's sink. Frames already direct-played are never
	// retroactively buffered.
	c.teardownManagerLocked()
	c.chunksDirect++
	c.mu.Unlock()

	if direct == nil {
		return fmt.Errorf("direct play callback is nil")
	}
	return direct(payload)
}

// ApplyAdaptiveAdjustments forwards the adjustment pass to the active
// playout manager, if any.
func (c *Controller) ApplyAdaptiveAdjustments() {
	c.mu.Lock()
	manager := c.manager
	c.mu.Unlock()

	if manager != nil {
		manager.ApplyAdaptiveAdjustments()
	}
}

// HealthMetrics proxies to the active playout manager when buffering;
// otherwise it returns an idle snapshot carrying the last observed jitter.
func (c *Controller) HealthMetrics() quality.HealthMetrics {
	c.mu.Lock()
	manager := c.manager
	c.mu.Unlock()

	if manager != nil {
		return manager.HealthMetrics()
	}

	return quality.HealthMetrics{
		State:           quality.HealthIdle,
		AverageJitterMs: c.monitor.AverageJitterMs(),
	}
}

// BufferingEnabled reports whether chunks currently route through a buffer.
func (c *Controller) BufferingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferingEnabled
}

// HasManager reports whether a playout manager instance currently exists.
func (c *Controller) HasManager() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager != nil
}

// QueuedFrames returns the active manager's FIFO length, or 0 when direct.
func (c *Controller) QueuedFrames() int {
	c.mu.Lock()
	manager := c.manager
	c.mu.Unlock()

	if manager == nil {
		return 0
	}
	return manager.QueueLen()
}

// Stats returns a monitoring snapshot.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	played, dropped := c.framesPlayed, c.framesDropped
	underruns, overruns := c.underruns, c.overruns
	if c.manager != nil {
		played += c.manager.FramesPlayed()
		dropped += c.manager.FramesDropped()
		health := c.manager.HealthMetrics()
		underruns += health.UnderrunCount
		overruns += health.OverrunCount
	}

	return Stats{
		Mode:                c.config.Mode,
		BufferingEnabled:    c.bufferingEnabled,
		ConsecutiveProblems: c.consecutiveProblems,
		ChunksBuffered:      c.chunksBuffered,
		ChunksDirect:        c.chunksDirect,
		FramesPlayed:        played,
		FramesDropped:       dropped,
		Underruns:           underruns,
		Overruns:            overruns,
		ModeTransitions:     c.modeTransitions,
		Conditions:          c.conditions,
	}
}

// Close tears down any active playout manager. Terminal.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownManagerLocked()
	c.closed = true
}

// evaluateLocked re-runs the buffering decision. Periodic calls are rate
// limited by the reevaluation interval; forced calls are not.
func (c *Controller) evaluateLocked(force bool) {
	now := time.Now()
	if !force && now.Sub(c.lastEvaluation) < c.config.ReevaluateInterval {
		return
	}
	c.lastEvaluation = now

	live := LiveHealth{State: c.liveHealthLocked()}
	should := c.strategy.ShouldBuffer(c.conditions, c.consecutiveProblems, live)
	if should == c.bufferingEnabled {
		return
	}

	c.bufferingEnabled = should
	c.modeTransitions++

	if should {
		c.logger.Info("Switching to buffered playback",
			slog.String("mode", string(c.config.Mode)),
			slog.Float64("latency_ms", c.conditions.LatencyMs),
			slog.Float64("jitter_ms", c.conditions.JitterMs),
			slog.Float64("packet_loss_percent", c.conditions.PacketLossPercent),
			slog.Int("consecutive_problems", c.consecutiveProblems),
			slog.String("live_health", string(live.State)),
		)
		c.ensureManagerLocked()
	} else {
		c.logger.Info("Switching to direct playback",
			slog.String("mode", string(c.config.Mode)),
			slog.Float64("latency_ms", c.conditions.LatencyMs),
			slog.String("live_health", string(live.State)),
		)
		c.teardownManagerLocked()
	}
}

// liveHealthLocked resolves the live health observation used by the
// strategy: the active manager's state when buffering, otherwise the
// long-lived network monitor once it has buffer-level samples.
func (c *Controller) liveHealthLocked() quality.HealthState {
	if c.manager != nil {
		return c.manager.HealthMetrics().State
	}
	if c.monitor.HasBufferLevels() {
		return c.monitor.HealthState(true)
	}
	return quality.HealthIdle
}

// updateProblemStreakLocked maintains the decaying streak of degraded or
// critical observations: +1 on a problem, -1 (floored at 0) otherwise.
func (c *Controller) updateProblemStreakLocked() {
	state := c.liveHealthLocked()
	if state == quality.HealthDegraded || state == quality.HealthCritical {
		c.consecutiveProblems++
	} else if c.consecutiveProblems > 0 {
		c.consecutiveProblems--
	}
}

// ensureManagerLocked lazily creates and starts the playout manager, sized
// by the current network conditions.
func (c *Controller) ensureManagerLocked() *playout.Manager {
	if c.manager != nil {
		return c.manager
	}

	config := sizeBufferConfig(c.conditions, c.config.Thresholds, c.config.FrameIntervalMs)

	manager, err := playout.NewManager(config, c.config.Audio, c.sink, c.logger)
	if err != nil {
		// Sizing always yields a valid config; reaching this means a
		// programming error, so fail loudly in logs and stay direct.
		c.logger.Error("Failed to create playout manager", slog.String("error", err.Error()))
		c.bufferingEnabled = false
		return nil
	}

	if c.turnID != "" {
		manager.SetTurnID(c.turnID)
	}
	manager.StartPlayback()
	c.manager = manager

	c.logger.Info("Playout manager created",
		slog.Float64("target_ms", config.TargetBufferMs),
		slog.Float64("min_ms", config.MinBufferMs),
		slog.Float64("max_ms", config.MaxBufferMs),
	)

	return manager
}

func (c *Controller) teardownManagerLocked() {
	if c.manager == nil {
		return
	}
	c.framesPlayed += c.manager.FramesPlayed()
	c.framesDropped += c.manager.FramesDropped()
	health := c.manager.HealthMetrics()
	c.underruns += health.UnderrunCount
	c.overruns += health.OverrunCount
	c.manager.Destroy()
	c.manager = nil
	c.logger.Info("Playout manager destroyed")
}

// sizeBufferConfig derives pacing parameters from observed conditions.
// Wider buffers absorb larger timing variance at the cost of added latency.
func sizeBufferConfig(conditions quality.NetworkConditions, thresholds Thresholds, frameIntervalMs float64) playout.Config {
	var target, min, max float64
	switch {
	case conditions.LatencyMs > 200:
		target, min, max = 400, 200, 800
	case conditions.LatencyMs > 100:
		target, min, max = 300, 150, 600
	default:
		target, min, max = 240, 120, 480
	}

	if thresholds.HighJitterMs > 0 && conditions.JitterMs > thresholds.HighJitterMs {
		target *= 1.5
		max *= 1.5
	}

	return playout.Config{
		TargetBufferMs:  target,
		MinBufferMs:     min,
		MaxBufferMs:     max,
		FrameIntervalMs: frameIntervalMs,
	}
}
