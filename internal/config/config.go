package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/playout-audio-service/internal/adaptive"
	"github.com/skypro1111/playout-audio-service/internal/frame"
	"github.com/skypro1111/playout-audio-service/internal/playout"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Adaptive AdaptiveConfig `yaml:"adaptive"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains WebSocket ingest server configuration
type ServerConfig struct {
	Port             int    `yaml:"port"`
	BindAddress      string `yaml:"bind_address"`
	MaxConnections   int    `yaml:"max_connections"`
	MaxMessageBytes  int64  `yaml:"max_message_bytes"`
	WriteTimeout     int    `yaml:"write_timeout"`     // seconds
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
}

// HTTPConfig contains HTTP monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio format parameters shared by every session
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	BitDepth        int     `yaml:"bit_depth"`
	Encoding        string  `yaml:"encoding"`
	FrameIntervalMs float64 `yaml:"frame_interval_ms"`
}

// BufferConfig contains playout pacing defaults used before network
// conditions size a buffer
type BufferConfig struct {
	TargetMs float64 `yaml:"target_ms"`
	MinMs    float64 `yaml:"min_ms"`
	MaxMs    float64 `yaml:"max_ms"`
}

// AdaptiveConfig contains buffering strategy configuration
type AdaptiveConfig struct {
	Mode               string  `yaml:"mode"`
	HighLatencyMs      float64 `yaml:"high_latency_ms"`
	HighJitterMs       float64 `yaml:"high_jitter_ms"`
	PacketLossPercent  float64 `yaml:"packet_loss_percent"`
	ReevaluateInterval int     `yaml:"reevaluate_interval"` // seconds
}

// SessionConfig contains stream session lifecycle configuration
type SessionConfig struct {
	Timeout   int    `yaml:"timeout"` // seconds
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	if err := c.Adaptive.Validate(); err != nil {
		return fmt.Errorf("adaptive config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections)
	}

	if s.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024, got %d", s.MaxMessageBytes)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", s.HandshakeTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 && a.BitDepth != 32 {
		return fmt.Errorf("bit_depth must be 16 or 32, got %d", a.BitDepth)
	}

	if !frame.Encoding(a.Encoding).Valid() {
		return fmt.Errorf("encoding must be '%s' or '%s', got '%s'",
			frame.EncodingPCM16, frame.EncodingPCM32, a.Encoding)
	}

	if a.FrameIntervalMs <= 0 {
		return fmt.Errorf("frame_interval_ms must be positive, got %f", a.FrameIntervalMs)
	}

	return nil
}

// Validate validates buffer configuration
func (b *BufferConfig) Validate() error {
	if b.TargetMs <= 0 {
		return fmt.Errorf("target_ms must be positive, got %f", b.TargetMs)
	}

	if b.MinMs <= 0 || b.MinMs >= b.TargetMs {
		return fmt.Errorf("min_ms (%f) must be positive and below target_ms (%f)", b.MinMs, b.TargetMs)
	}

	if b.MaxMs <= b.TargetMs {
		return fmt.Errorf("max_ms (%f) must be greater than target_ms (%f)", b.MaxMs, b.TargetMs)
	}

	return nil
}

// Validate validates adaptive buffering configuration
func (a *AdaptiveConfig) Validate() error {
	if !adaptive.Mode(a.Mode).Valid() {
		return fmt.Errorf("mode must be one of [conservative, balanced, aggressive, adaptive], got '%s'", a.Mode)
	}

	if a.HighLatencyMs <= 0 {
		return fmt.Errorf("high_latency_ms must be positive, got %f", a.HighLatencyMs)
	}

	if a.HighJitterMs <= 0 {
		return fmt.Errorf("high_jitter_ms must be positive, got %f", a.HighJitterMs)
	}

	if a.PacketLossPercent <= 0 || a.PacketLossPercent > 100 {
		return fmt.Errorf("packet_loss_percent must be in (0, 100], got %f", a.PacketLossPercent)
	}

	if a.ReevaluateInterval < 1 {
		return fmt.Errorf("reevaluate_interval must be at least 1 second, got %d", a.ReevaluateInterval)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWriteTimeout returns the WebSocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetHandshakeTimeout returns the WebSocket handshake timeout as a time.Duration
func (s *ServerConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Second
}

// GetReevaluateInterval returns the adaptive re-evaluation interval as a time.Duration
func (a *AdaptiveConfig) GetReevaluateInterval() time.Duration {
	return time.Duration(a.ReevaluateInterval) * time.Second
}

// GetTimeoutDuration returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// PlayoutConfig maps the buffer section onto pacing parameters
func (c *Config) PlayoutConfig() playout.Config {
	return playout.Config{
		TargetBufferMs:  c.Buffer.TargetMs,
		MinBufferMs:     c.Buffer.MinMs,
		MaxBufferMs:     c.Buffer.MaxMs,
		FrameIntervalMs: c.Audio.FrameIntervalMs,
	}
}

// AudioParams maps the audio section onto session audio parameters
func (c *Config) AudioParams() playout.AudioParams {
	return playout.AudioParams{
		SampleRate: c.Audio.SampleRate,
		Encoding:   frame.Encoding(c.Audio.Encoding),
	}
}

// Thresholds maps the adaptive section onto strategy thresholds
func (c *Config) Thresholds() adaptive.Thresholds {
	return adaptive.Thresholds{
		HighLatencyMs:     c.Adaptive.HighLatencyMs,
		HighJitterMs:      c.Adaptive.HighJitterMs,
		PacketLossPercent: c.Adaptive.PacketLossPercent,
	}
}
