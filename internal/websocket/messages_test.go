package websocket

import (
	"encoding/json"
	"testing"

	"github.com/satriahrh/allergy-checker/internal/audio"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{
			name:    "listening started with format",
			message: `{"type": "listening_started", "format": {"encoding": "pcm_s16le", "sample_rate": 16000, "channels": 1}}`,
		},
		{
			name:    "listening started refused",
			message: `{"type": "listening_started", "error": "permission denied"}`,
		},
		{
			name:    "listening started without format",
			message: `{"type": "listening_started"}`,
			wantErr: true,
		},
		{
			name:    "valid frame",
			message: `{"type": "frame", "request_id": "req-1", "data": "iVBORw0KGgo="}`,
		},
		{
			name:    "frame without request id",
			message: `{"type": "frame", "data": "iVBORw0KGgo="}`,
			wantErr: true,
		},
		{
			name:    "frame without data",
			message: `{"type": "frame", "request_id": "req-1"}`,
			wantErr: true,
		},
		{
			name:    "playback done",
			message: `{"type": "playback_done"}`,
		},
		{
			name:    "device stops listening",
			message: `{"type": "listening_end"}`,
		},
		{
			name:    "ping",
			message: `{"type": "ping", "timestamp": "2024-01-01T00:00:00Z"}`,
		},
		{
			name:    "missing type",
			message: `{"request_id": "req-1"}`,
			wantErr: true,
		},
		{
			name:    "unsupported type",
			message: `{"type": "audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			message: `{"type": "ping"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMessage_Format(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type": "listening_started", "format": {"encoding": "wav", "sample_rate": 44100, "channels": 2}}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Format.Encoding != audio.EncodingWAV || msg.Format.SampleRate != 44100 || msg.Format.Channels != 2 {
		t.Errorf("Unexpected format %+v", msg.Format)
	}
}

func TestInboundMessage_Frame(t *testing.T) {
	msg := &InboundMessage{Data: "aGVsbG8="}
	frame, err := msg.Frame()
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if string(frame) != "hello" {
		t.Errorf("Expected hello, got %q", frame)
	}

	msg.Data = "not base64!"
	if _, err := msg.Frame(); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("invalid_message", "bad input")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal error message: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal error message: %v", err)
	}
	if decoded["type"] != "error" || decoded["error_code"] != "invalid_message" || decoded["message"] != "bad input" {
		t.Errorf("Unexpected error message %v", decoded)
	}
	if decoded["timestamp"] == "" {
		t.Error("Expected timestamp to be set")
	}
}
