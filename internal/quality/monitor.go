package quality

import (
	"sync"
	"time"
)

// HealthState is a qualitative classification of buffer health.
type HealthState string

const (
	HealthIdle     HealthState = "idle"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// NetworkConditions carries advisory latency/jitter/loss observations used
// by the buffering-need decision. No freshness tracking beyond explicit
// updates.
type NetworkConditions struct {
	LatencyMs         float64 `json:"latency_ms"`
	JitterMs          float64 `json:"jitter_ms"`
	PacketLossPercent float64 `json:"packet_loss_percent"`
}

// HealthMetrics is an on-demand snapshot of buffer health. It is recomputed
// per request and never persisted.
type HealthMetrics struct {
	CurrentBufferMs float64     `json:"current_buffer_ms"`
	TargetBufferMs  float64     `json:"target_buffer_ms"`
	UnderrunCount   uint64      `json:"underrun_count"`
	OverrunCount    uint64      `json:"overrun_count"`
	AverageJitterMs float64     `json:"average_jitter_ms"`
	State           HealthState `json:"state"`
	AdjustmentCount uint64      `json:"adjustment_count"`
}

const (
	// jitterAlpha is the EMA smoothing factor for jitter estimation.
	jitterAlpha = 0.1

	// maxHistory bounds arrival and buffer-level history.
	maxHistory = 100

	// recentEventWindow is the trailing window used to count recent
	// underrun/overrun events.
	recentEventWindow = 5 * time.Second

	// minSamplesForAdjustment gates adjustment recommendations until enough
	// arrivals have been observed.
	minSamplesForAdjustment = 10

	criticalBufferMs = 50
	lowBufferMs      = 150
	trendSampleCount = 10
)

// Monitor estimates jitter and buffer health from arrival and buffer-level
// observations. Safe for concurrent use.
type Monitor struct {
	frameIntervalMs float64

	arrivals      []time.Time
	bufferLevels  []float64
	averageJitter float64

	underrunCount uint64
	overrunCount  uint64
	underrunTimes []time.Time
	overrunTimes  []time.Time

	adjustmentCount uint64

	mu sync.Mutex
}

// NewMonitor creates a quality monitor for the given nominal frame interval.
func NewMonitor(frameIntervalMs float64) *Monitor {
	if frameIntervalMs <= 0 {
		frameIntervalMs = 20
	}
	return &Monitor{frameIntervalMs: frameIntervalMs}
}

// RecordArrival registers one frame arrival. The first arrival establishes
// the timing baseline and contributes no jitter sample.
func (m *Monitor) RecordArrival(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.arrivals) > 0 {
		interval := at.Sub(m.arrivals[len(m.arrivals)-1]).Seconds() * 1000
		deviation := interval - m.frameIntervalMs
		if deviation < 0 {
			deviation = -deviation
		}
		m.averageJitter = m.averageJitter*(1-jitterAlpha) + deviation*jitterAlpha
	}

	m.arrivals = append(m.arrivals, at)
	if len(m.arrivals) > maxHistory {
		m.arrivals = m.arrivals[len(m.arrivals)-maxHistory:]
	}
}

// RecordBufferLevel registers the current buffered depth in milliseconds.
func (m *Monitor) RecordBufferLevel(levelMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bufferLevels = append(m.bufferLevels, levelMs)
	if len(m.bufferLevels) > maxHistory {
		m.bufferLevels = m.bufferLevels[len(m.bufferLevels)-maxHistory:]
	}
}

// RecordUnderrun registers one underrun event.
func (m *Monitor) RecordUnderrun() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.underrunCount++
	m.underrunTimes = appendEvent(m.underrunTimes, time.Now())
}

// RecordOverrun registers one overrun event.
func (m *Monitor) RecordOverrun() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overrunCount++
	m.overrunTimes = appendEvent(m.overrunTimes, time.Now())
}

func appendEvent(events []time.Time, at time.Time) []time.Time {
	events = append(events, at)
	if len(events) > maxHistory {
		events = events[len(events)-maxHistory:]
	}
	return events
}

// HasBufferLevels reports whether any buffer-level sample has been recorded.
func (m *Monitor) HasBufferLevels() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bufferLevels) > 0
}

// AverageJitterMs returns the smoothed jitter estimate in milliseconds.
func (m *Monitor) AverageJitterMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageJitter
}

// UnderrunCount returns the lifetime underrun count.
func (m *Monitor) UnderrunCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.underrunCount
}

// OverrunCount returns the lifetime overrun count.
func (m *Monitor) OverrunCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrunCount
}

// AdjustmentCount returns the number of nonzero adjustment recommendations
// issued so far. Telemetry only; it does not gate future recommendations.
func (m *Monitor) AdjustmentCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustmentCount
}

// HealthState classifies current buffer health. Rules are evaluated in
// precedence order; the first match wins.
func (m *Monitor) HealthState(isPlaying bool) HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isPlaying {
		return HealthIdle
	}

	level := m.currentBufferLevelLocked()
	if level < criticalBufferMs {
		return HealthCritical
	}

	now := time.Now()
	if countRecent(m.underrunTimes, now) > 2 || countRecent(m.overrunTimes, now) > 3 {
		return HealthDegraded
	}

	if m.averageJitter > 0.5*m.frameIntervalMs {
		return HealthDegraded
	}

	if m.bufferTrendDecliningLocked() && level < lowBufferMs {
		return HealthDegraded
	}

	return HealthHealthy
}

// RecommendedAdjustment returns a signed buffer-size adjustment in
// milliseconds, or 0 while fewer than 10 arrivals have been observed.
func (m *Monitor) RecommendedAdjustment() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.arrivals) < minSamplesForAdjustment {
		return 0
	}

	now := time.Now()
	adjustment := 0.0

	if underruns := countRecent(m.underrunTimes, now); underruns > 0 {
		increase := float64(underruns) * 20
		if increase > 60 {
			increase = 60
		}
		adjustment += increase
	}

	if overruns := countRecent(m.overrunTimes, now); overruns > 0 {
		decrease := float64(overruns) * 10
		if decrease > 40 {
			decrease = 40
		}
		adjustment -= decrease
	}

	if m.averageJitter > m.frameIntervalMs {
		adjustment += 20
	} else if m.averageJitter < 0.2*m.frameIntervalMs {
		adjustment -= 10
	}

	if adjustment != 0 {
		m.adjustmentCount++
	}

	return adjustment
}

// Snapshot returns the monitor's counters and jitter estimate.
func (m *Monitor) Snapshot(isPlaying bool) HealthMetrics {
	state := m.HealthState(isPlaying)

	m.mu.Lock()
	defer m.mu.Unlock()

	return HealthMetrics{
		CurrentBufferMs: m.currentBufferLevelLocked(),
		UnderrunCount:   m.underrunCount,
		OverrunCount:    m.overrunCount,
		AverageJitterMs: m.averageJitter,
		State:           state,
		AdjustmentCount: m.adjustmentCount,
	}
}

// Reset clears all history and counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.arrivals = nil
	m.bufferLevels = nil
	m.averageJitter = 0
	m.underrunCount = 0
	m.overrunCount = 0
	m.underrunTimes = nil
	m.overrunTimes = nil
	m.adjustmentCount = 0
}

func (m *Monitor) currentBufferLevelLocked() float64 {
	if len(m.bufferLevels) == 0 {
		return 0
	}
	return m.bufferLevels[len(m.bufferLevels)-1]
}

// bufferTrendDecliningLocked compares first-half and second-half averages of
// the most recent level samples. Declining means the second half dropped by
// more than one frame interval.
func (m *Monitor) bufferTrendDecliningLocked() bool {
	if len(m.bufferLevels) < trendSampleCount {
		return false
	}

	recent := m.bufferLevels[len(m.bufferLevels)-trendSampleCount:]
	half := len(recent) / 2

	firstAvg := average(recent[:half])
	secondAvg := average(recent[half:])

	return firstAvg-secondAvg > m.frameIntervalMs
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// countRecent counts events inside the trailing window. Events are
// timestamped individually rather than approximated from lifetime counters.
func countRecent(events []time.Time, now time.Time) int {
	count := 0
	for i := len(events) - 1; i >= 0; i-- {
		if now.Sub(events[i]) > recentEventWindow {
			break
		}
		count++
	}
	return count
}
