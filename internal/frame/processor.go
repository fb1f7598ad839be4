package frame

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
)

// MaxChunkBytes is the maximum estimated decoded size of a single chunk.
// Chunks above this are treated as malformed or abusive input and rejected
// wholesale rather than split.
const MaxChunkBytes = 64 * 1024

// Encoding identifies the PCM sample format carried by audio payloads.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_s16le"
	EncodingPCM32 Encoding = "pcm_f32le"
)

// BytesPerSample returns the byte width of one sample for the encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCM32:
		return 4
	default:
		return 2
	}
}

// Valid reports whether the encoding is one of the supported formats.
func (e Encoding) Valid() bool {
	return e == EncodingPCM16 || e == EncodingPCM32
}

// PlayPayload is one incoming audio chunk as delivered by the transport.
type PlayPayload struct {
	AudioData string `json:"audio_data"`
	IsFirst   bool   `json:"is_first,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
}

// Frame is one validated audio unit scheduled for playback.
type Frame struct {
	SequenceNumber uint64
	AudioData      string
	IsFirst        bool
	IsFinal        bool
	DurationMs     float64
	Timestamp      time.Time
}

// base64Alphabet matches sanitized base64 content with optional padding.
var base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// ProcessorConfig contains the audio parameters used for duration estimation.
type ProcessorConfig struct {
	SampleRate      int
	Encoding        Encoding
	FrameIntervalMs float64
}

// Processor converts raw chunks into frames. It is stateless apart from the
// monotonic sequence counter.
type Processor struct {
	config   ProcessorConfig
	logger   *slog.Logger
	sequence uint64
}

// NewProcessor creates a frame processor for the given audio parameters.
func NewProcessor(config ProcessorConfig, logger *slog.Logger) *Processor {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if !config.Encoding.Valid() {
		config.Encoding = EncodingPCM16
	}
	if config.FrameIntervalMs <= 0 {
		config.FrameIntervalMs = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		config: config,
		logger: logger,
	}
}

// ParseChunk validates and normalizes one payload into zero or one frames.
// It never returns an error: any validation failure yields an empty slice
// and a warning log so the caller's enqueue path stays exception-free.
func (p *Processor) ParseChunk(payload *PlayPayload) []Frame {
	if payload == nil || payload.AudioData == "" {
		p.logger.Warn("Dropping chunk with empty audio payload")
		return nil
	}

	// Reject oversized chunks before any string processing.
	estimatedBytes := estimateDecodedSize(payload.AudioData)
	if estimatedBytes > MaxChunkBytes {
		p.logger.Warn("Dropping oversized audio chunk",
			slog.Int("estimated_bytes", estimatedBytes),
			slog.Int("limit_bytes", MaxChunkBytes),
		)
		return nil
	}

	sanitized, err := sanitizeBase64(payload.AudioData)
	if err != nil {
		p.logger.Warn("Dropping malformed audio chunk",
			slog.String("error", err.Error()),
			slog.Int("payload_length", len(payload.AudioData)),
		)
		return nil
	}

	frame := Frame{
		SequenceNumber: p.sequence,
		AudioData:      sanitized,
		IsFirst:        payload.IsFirst,
		IsFinal:        payload.IsFinal,
		DurationMs:     p.estimateDuration(sanitized),
		Timestamp:      time.Now(),
	}
	p.sequence++

	return []Frame{frame}
}

// Sequence returns the next sequence number to be assigned.
func (p *Processor) Sequence() uint64 {
	return p.sequence
}

// Reset restarts sequence numbering. Used on stream restart, never on error.
func (p *Processor) Reset() {
	p.sequence = 0
}

// estimateDecodedSize returns the decoded byte size implied by a base64
// string, accounting for trailing padding.
func estimateDecodedSize(data string) int {
	padding := 0
	for i := len(data) - 1; i >= 0 && data[i] == '='; i-- {
		padding++
	}
	return len(data)*3/4 - padding
}

// sanitizeBase64 strips whitespace and repairs stripped trailing padding.
// A remainder of 1 after stripping cannot be repaired and is left as-is;
// duration estimation falls back safely for it.
func sanitizeBase64(data string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, data)

	if cleaned == "" {
		return "", fmt.Errorf("payload contains only whitespace")
	}

	if !base64Alphabet.MatchString(cleaned) {
		return "", fmt.Errorf("payload contains non-base64 characters")
	}

	switch len(cleaned) % 4 {
	case 2:
		cleaned += "=="
	case 3:
		cleaned += "="
	}

	return cleaned, nil
}

// estimateDuration derives the playout duration in milliseconds from the
// base64 length, sample rate and sample width. Implausible results fall back
// to the nominal frame interval rather than propagating a bogus duration.
func (p *Processor) estimateDuration(data string) float64 {
	decodedBytes := estimateDecodedSize(data)
	samples := decodedBytes / p.config.Encoding.BytesPerSample()
	durationMs := math.Round(float64(samples) / float64(p.config.SampleRate) * 1000)

	// A single network chunk should not decode to over one second of audio.
	if durationMs <= 0 || durationMs > 1000 {
		return p.config.FrameIntervalMs
	}

	return durationMs
}
