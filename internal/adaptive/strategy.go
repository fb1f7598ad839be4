package adaptive

import (
	"fmt"

	"github.com/skypro1111/playout-audio-service/internal/quality"
)

// Mode selects the buffering-decision strategy. There is no single right
// mode; callers choose a risk/latency tradeoff.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeAggressive   Mode = "aggressive"
	ModeAdaptive     Mode = "adaptive"
)

// Valid reports whether the mode is one of the four known strategies.
func (m Mode) Valid() bool {
	switch m {
	case ModeConservative, ModeBalanced, ModeAggressive, ModeAdaptive:
		return true
	}
	return false
}

// Thresholds are the nominal network-condition limits the strategies scale.
type Thresholds struct {
	HighLatencyMs     float64 `yaml:"high_latency_ms"`
	HighJitterMs      float64 `yaml:"high_jitter_ms"`
	PacketLossPercent float64 `yaml:"packet_loss_percent"`
}

// LiveHealth is the live quality observation fed into the adaptive strategy.
type LiveHealth struct {
	State quality.HealthState
}

// Strategy decides whether a stream should be buffered given current
// conditions. One implementation per mode, selected at construction time.
type Strategy interface {
	Name() Mode
	ShouldBuffer(conditions quality.NetworkConditions, consecutiveProblems int, live LiveHealth) bool
}

// NewStrategy returns the strategy implementation for the given mode.
func NewStrategy(mode Mode, thresholds Thresholds) (Strategy, error) {
	switch mode {
	case ModeConservative:
		return conservativeStrategy{thresholds}, nil
	case ModeBalanced:
		return balancedStrategy{thresholds}, nil
	case ModeAggressive:
		return aggressiveStrategy{thresholds}, nil
	case ModeAdaptive:
		return adaptiveStrategy{balancedStrategy{thresholds}}, nil
	default:
		return nil, fmt.Errorf("unknown buffering mode %q", mode)
	}
}

// conservativeStrategy buffers only on severe symptoms.
type conservativeStrategy struct {
	t Thresholds
}

func (s conservativeStrategy) Name() Mode { return ModeConservative }

func (s conservativeStrategy) ShouldBuffer(c quality.NetworkConditions, consecutiveProblems int, _ LiveHealth) bool {
	return c.LatencyMs > 1.5*s.t.HighLatencyMs ||
		c.PacketLossPercent > 2*s.t.PacketLossPercent ||
		consecutiveProblems > 3
}

// balancedStrategy buffers at the nominal thresholds.
type balancedStrategy struct {
	t Thresholds
}

func (s balancedStrategy) Name() Mode { return ModeBalanced }

func (s balancedStrategy) ShouldBuffer(c quality.NetworkConditions, consecutiveProblems int, _ LiveHealth) bool {
	return c.LatencyMs > s.t.HighLatencyMs ||
		c.JitterMs > s.t.HighJitterMs ||
		c.PacketLossPercent > s.t.PacketLossPercent ||
		consecutiveProblems > 2
}

// aggressiveStrategy buffers proactively at fractional thresholds.
type aggressiveStrategy struct {
	t Thresholds
}

func (s aggressiveStrategy) Name() Mode { return ModeAggressive }

func (s aggressiveStrategy) ShouldBuffer(c quality.NetworkConditions, consecutiveProblems int, _ LiveHealth) bool {
	return c.LatencyMs > 0.7*s.t.HighLatencyMs ||
		c.JitterMs > 0.5*s.t.HighJitterMs ||
		c.PacketLossPercent > 0.1 ||
		consecutiveProblems > 1
}

// adaptiveStrategy starts from the balanced verdict, then always buffers
// under live critical health and always goes direct when live health is
// clean. Favors safety under duress and low latency when stable.
type adaptiveStrategy struct {
	balanced balancedStrategy
}

func (s adaptiveStrategy) Name() Mode { return ModeAdaptive }

func (s adaptiveStrategy) ShouldBuffer(c quality.NetworkConditions, consecutiveProblems int, live LiveHealth) bool {
	if live.State == quality.HealthCritical {
		return true
	}
	if live.State == quality.HealthHealthy && consecutiveProblems == 0 {
		return false
	}
	return s.balanced.ShouldBuffer(c, consecutiveProblems, live)
}
