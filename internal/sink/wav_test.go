package sink

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/skypro1111/playout-audio-service/internal/frame"
)

func encodeSamples(samples []int16) string {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func waitForFrames(t *testing.T, s *WAVSink, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.FramesWritten() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d frames, got %d", want, s.FramesWritten())
}

func TestNewWAVSinkRejectsFloatEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	if _, err := NewWAVSink(path, 16000, frame.EncodingPCM32, nil); err == nil {
		t.Error("Expected error for float encoding")
	}
}

func TestNewWAVSinkRejectsBadSampleRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	if _, err := NewWAVSink(path, 0, frame.EncodingPCM16, nil); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestWAVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := NewWAVSink(path, 16000, frame.EncodingPCM16, nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	samples := []int16{0, 100, -100, 32767, -32768, 42}
	if err := s.Play(encodeSamples(samples), "turn-frame-0", frame.EncodingPCM16); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitForFrames(t, s, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}

	if buf.Format.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", buf.Format.SampleRate)
	}
	if buf.Format.NumChannels != 1 {
		t.Errorf("Expected mono output, got %d channels", buf.Format.NumChannels)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, want := range samples {
		if buf.Data[i] != int(want) {
			t.Errorf("Sample %d: got %d, want %d", i, buf.Data[i], want)
		}
	}
}

func TestWAVSinkMultipleFramesPreserveOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := NewWAVSink(path, 16000, frame.EncodingPCM16, nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	// Three frames with distinct constant values.
	for i, v := range []int16{10, 20, 30} {
		payload := encodeSamples([]int16{v, v, v, v})
		if err := s.Play(payload, "turn-frame-"+string(rune('0'+i)), frame.EncodingPCM16); err != nil {
			t.Fatalf("Play %d failed: %v", i, err)
		}
	}
	waitForFrames(t, s, 3)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}

	want := []int{10, 10, 10, 10, 20, 20, 20, 20, 30, 30, 30, 30}
	if len(buf.Data) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("Sample %d: got %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVSinkPlayErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := NewWAVSink(path, 16000, frame.EncodingPCM16, nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer s.Close()

	if err := s.Play("not base64!!!", "bad-frame", frame.EncodingPCM16); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if err := s.Play(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), "odd-frame", frame.EncodingPCM16); err == nil {
		t.Error("Expected error for odd byte length")
	}
	if err := s.Play(encodeSamples([]int16{1}), "float-frame", frame.EncodingPCM32); err == nil {
		t.Error("Expected error for float encoding")
	}
}

func TestWAVSinkClosedRejectsPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := NewWAVSink(path, 16000, frame.EncodingPCM16, nil)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Play(encodeSamples([]int16{1, 2}), "late-frame", frame.EncodingPCM16); err == nil {
		t.Error("Expected error playing into a closed sink")
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
