package sink

import "github.com/skypro1111/playout-audio-service/internal/frame"

// Sink is a playback output owned by one session.
type Sink interface {
	// Play accepts one frame's base64 payload. Must return promptly.
	Play(audioData string, playbackID string, encoding frame.Encoding) error

	// FramesWritten reports how many frames the sink has consumed.
	FramesWritten() uint64

	// Close releases the sink. Play fails afterwards.
	Close() error
}

var (
	_ Sink = (*WAVSink)(nil)
	_ Sink = (*NullSink)(nil)
)
