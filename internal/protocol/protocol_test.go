package protocol

import (
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectError bool
		wantType    string
	}{
		{
			name:     "audio chunk",
			data:     `{"type":"audio","turn_id":"turn-1","audio_data":"AAAA","is_first":true}`,
			wantType: TypeAudio,
		},
		{
			name:     "audio chunk with empty payload",
			data:     `{"type":"audio","audio_data":""}`,
			wantType: TypeAudio,
		},
		{
			name:     "final audio chunk",
			data:     `{"type":"audio","audio_data":"AAAA","is_final":true}`,
			wantType: TypeAudio,
		},
		{
			name:     "conditions update",
			data:     `{"type":"conditions","conditions":{"latency_ms":120,"jitter_ms":15,"packet_loss_percent":0.5}}`,
			wantType: TypeConditions,
		},
		{
			name:     "stop control",
			data:     `{"type":"control","action":"stop"}`,
			wantType: TypeControl,
		},
		{
			name:        "invalid JSON",
			data:        `{"type":"audio"`,
			expectError: true,
		},
		{
			name:        "unknown type",
			data:        `{"type":"video"}`,
			expectError: true,
		},
		{
			name:        "missing type",
			data:        `{"audio_data":"AAAA"}`,
			expectError: true,
		},
		{
			name:        "conditions without snapshot",
			data:        `{"type":"conditions"}`,
			expectError: true,
		},
		{
			name:        "negative latency",
			data:        `{"type":"conditions","conditions":{"latency_ms":-5}}`,
			expectError: true,
		},
		{
			name:        "packet loss over 100",
			data:        `{"type":"conditions","conditions":{"packet_loss_percent":150}}`,
			expectError: true,
		},
		{
			name:        "unknown control action",
			data:        `{"type":"control","action":"pause"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.data))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, msg.Type)
			}
		})
	}
}

func TestParseMessageAudioFields(t *testing.T) {
	data := `{"type":"audio","turn_id":"turn-7","audio_data":"UExBWQ==","is_first":true,"is_final":false}`

	msg, err := ParseMessage([]byte(data))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if msg.TurnID != "turn-7" {
		t.Errorf("Expected turn_id turn-7, got %s", msg.TurnID)
	}
	if msg.AudioData != "UExBWQ==" {
		t.Errorf("Unexpected audio_data: %s", msg.AudioData)
	}
	if !msg.IsFirst || msg.IsFinal {
		t.Errorf("Unexpected chunk flags: is_first=%v is_final=%v", msg.IsFirst, msg.IsFinal)
	}
}

func TestParseMessageConditionsFields(t *testing.T) {
	data := `{"type":"conditions","conditions":{"latency_ms":200,"jitter_ms":30,"packet_loss_percent":2.5}}`

	msg, err := ParseMessage([]byte(data))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if msg.Conditions.LatencyMs != 200 {
		t.Errorf("Expected latency 200, got %f", msg.Conditions.LatencyMs)
	}
	if msg.Conditions.JitterMs != 30 {
		t.Errorf("Expected jitter 30, got %f", msg.Conditions.JitterMs)
	}
	if msg.Conditions.PacketLossPercent != 2.5 {
		t.Errorf("Expected loss 2.5, got %f", msg.Conditions.PacketLossPercent)
	}
}
