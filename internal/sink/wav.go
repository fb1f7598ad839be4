package sink

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/skypro1111/playout-audio-service/internal/frame"
)

// writeQueueSize bounds the number of pending frames a WAV sink will hold
// before rejecting new ones. Rejection is surfaced as an error to the
// caller, which logs and moves on.
const writeQueueSize = 256

// WAVSink persists played frames to a WAV file. Play decodes and enqueues
// without blocking; a single worker goroutine performs the file writes so
// the pacing loop never waits on disk.
type WAVSink struct {
	path    string
	file    *os.File
	encoder *wav.Encoder
	format  *audio.Format
	logger  *slog.Logger

	queue chan []int
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	framesWritten uint64
	writeErrors   uint64
}

// NewWAVSink creates a WAV sink writing 16-bit mono PCM to path. Only the
// pcm_s16le encoding is supported; float payloads belong to a different
// sink.
func NewWAVSink(path string, sampleRate int, encoding frame.Encoding, logger *slog.Logger) (*WAVSink, error) {
	if encoding != frame.EncodingPCM16 {
		return nil, fmt.Errorf("wav sink supports %s only, got %s", frame.EncodingPCM16, encoding)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file %s: %w", path, err)
	}

	s := &WAVSink{
		path:    path,
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, 16, 1, 1),
		format:  &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		logger:  logger,
		queue:   make(chan []int, writeQueueSize),
		done:    make(chan struct{}),
	}

	go s.writeLoop()

	return s, nil
}

// Play decodes the base64 payload and queues the samples for writing. It
// never blocks: a full queue rejects the frame with an error.
func (s *WAVSink) Play(audioData string, playbackID string, encoding frame.Encoding) error {
	if encoding != frame.EncodingPCM16 {
		return fmt.Errorf("unsupported encoding %s for frame %s", encoding, playbackID)
	}

	raw, err := base64.StdEncoding.DecodeString(audioData)
	if err != nil {
		return fmt.Errorf("failed to decode frame %s: %w", playbackID, err)
	}
	if len(raw)%2 != 0 {
		return fmt.Errorf("frame %s has odd byte length %d", playbackID, len(raw))
	}

	samples := make([]int, len(raw)/2)
	for i := range samples {
		samples[i] = int(int16(raw[2*i]) | int16(raw[2*i+1])<<8)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("wav sink is closed")
	}

	select {
	case s.queue <- samples:
		return nil
	default:
		return fmt.Errorf("wav sink queue full, dropping frame %s", playbackID)
	}
}

// writeLoop drains the queue into the encoder until the sink closes.
func (s *WAVSink) writeLoop() {
	defer close(s.done)

	for samples := range s.queue {
		buf := &audio.IntBuffer{
			Format:         s.format,
			Data:           samples,
			SourceBitDepth: 16,
		}
		if err := s.encoder.Write(buf); err != nil {
			s.mu.Lock()
			s.writeErrors++
			s.mu.Unlock()
			s.logger.Warn("WAV write failed",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.mu.Lock()
		s.framesWritten++
		s.mu.Unlock()
	}
}

// FramesWritten returns the number of frames flushed to disk so far.
func (s *WAVSink) FramesWritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesWritten
}

// Path returns the output file path.
func (s *WAVSink) Path() string {
	return s.path
}

// Close drains pending writes, finalizes the WAV header and closes the
// file. The sink is unusable afterwards.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done

	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to finalize wav file %s: %w", s.path, err)
	}
	return s.file.Close()
}
