package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/skypro1111/playout-audio-service/internal/quality"
)

// Message types accepted on a stream connection
const (
	TypeAudio      = "audio"
	TypeConditions = "conditions"
	TypeControl    = "control"
)

// Control actions
const (
	ActionStop = "stop"
)

// Message is the JSON envelope for every client-to-server message
// Layout: {"type": "...", ...type-specific fields}
type Message struct {
	Type string `json:"type"`

	// Audio chunk fields
	TurnID    string `json:"turn_id,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
	IsFirst   bool   `json:"is_first,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`

	// Network conditions snapshot
	Conditions *quality.NetworkConditions `json:"conditions,omitempty"`

	// Control action
	Action string `json:"action,omitempty"`
}

// ServerMessage is the JSON envelope for server-to-client messages
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseMessage parses and validates one inbound message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message JSON: %w", err)
	}

	switch msg.Type {
	case TypeAudio:
		// Empty audio_data is handled downstream (rejected chunk, fallback
		// duration), so no payload validation here.

	case TypeConditions:
		if msg.Conditions == nil {
			return nil, fmt.Errorf("conditions message missing snapshot")
		}
		if msg.Conditions.LatencyMs < 0 || msg.Conditions.JitterMs < 0 {
			return nil, fmt.Errorf("conditions cannot be negative: latency=%f jitter=%f",
				msg.Conditions.LatencyMs, msg.Conditions.JitterMs)
		}
		if msg.Conditions.PacketLossPercent < 0 || msg.Conditions.PacketLossPercent > 100 {
			return nil, fmt.Errorf("packet loss must be in [0, 100], got %f",
				msg.Conditions.PacketLossPercent)
		}

	case TypeControl:
		if msg.Action != ActionStop {
			return nil, fmt.Errorf("unknown control action '%s'", msg.Action)
		}

	default:
		return nil, fmt.Errorf("unknown message type '%s'", msg.Type)
	}

	return &msg, nil
}
