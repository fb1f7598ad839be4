package sink

import (
	"sync/atomic"

	"github.com/skypro1111/playout-audio-service/internal/frame"
)

// NullSink discards every frame. Used when no output file is configured.
type NullSink struct {
	played atomic.Uint64
}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (s *NullSink) Play(_ string, _ string, _ frame.Encoding) error {
	s.played.Add(1)
	return nil
}

// FramesWritten returns the number of frames accepted and discarded.
func (s *NullSink) FramesWritten() uint64 {
	return s.played.Load()
}

func (s *NullSink) Close() error {
	return nil
}
