package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/allergy-checker/internal/audio"
	"github.com/satriahrh/allergy-checker/internal/vision"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Server to device
const (
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeRelease        MessageType = "release"
	MessageTypeCameraOpen     MessageType = "camera_open"
	MessageTypeCaptureRequest MessageType = "capture_request"
	MessageTypeDisplay        MessageType = "display"
	MessageTypeSpeakingStart  MessageType = "speaking_start"
	MessageTypeSpeakingEnd    MessageType = "speaking_end"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
)

// Device to server. listening_end is also accepted from the device when the
// user stops talking before the auto stop.
const (
	MessageTypeListeningStarted MessageType = "listening_started"
	MessageTypeListeningStopped MessageType = "listening_stopped"
	MessageTypeCameraReady      MessageType = "camera_ready"
	MessageTypeFrame            MessageType = "frame"
	MessageTypePlaybackDone     MessageType = "playback_done"
	MessageTypePing             MessageType = "ping"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// ListeningStartMessage asks the device to open its microphone
type ListeningStartMessage struct {
	BaseMessage
	SampleRate int `json:"sample_rate"`
}

// ReleaseMessage tells the device a resource is no longer needed
type ReleaseMessage struct {
	BaseMessage
	Resource string `json:"resource"`
}

// CameraOpenMessage binds the device camera to a display target
type CameraOpenMessage struct {
	BaseMessage
	Target string `json:"target"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CaptureRequestMessage asks for one fresh frame
type CaptureRequestMessage struct {
	BaseMessage
	RequestID string `json:"request_id"`
}

// DisplayMessage shows or hides a surface on the device screen
type DisplayMessage struct {
	BaseMessage
	Surface vision.Surface `json:"surface"`
	Visible bool           `json:"visible"`
}

// SpeakingStartMessage precedes the binary audio of a response. Devices
// without audio show Text.
type SpeakingStartMessage struct {
	BaseMessage
	Text        string `json:"text"`
	ContentType string `json:"content_type,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// InboundMessage is any control message sent by the device. Only the fields
// relevant to Type are set.
type InboundMessage struct {
	BaseMessage
	RequestID string        `json:"request_id,omitempty"`
	Data      string        `json:"data,omitempty"`
	Format    *audio.Format `json:"format,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Frame decodes the base64 picture of a frame message
func (m *InboundMessage) Frame() ([]byte, error) {
	frame, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}
	return frame, nil
}

// ParseMessage parses and validates a control message from the device
func ParseMessage(messageBytes []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Type {
	case MessageTypeListeningStarted:
		if msg.Error == "" && msg.Format == nil {
			return nil, fmt.Errorf("format is required")
		}
	case MessageTypeFrame:
		if msg.RequestID == "" {
			return nil, fmt.Errorf("request_id is required")
		}
		if msg.Data == "" {
			return nil, fmt.Errorf("data is required")
		}
	case MessageTypeListeningStopped, MessageTypeListeningEnd, MessageTypeCameraReady,
		MessageTypePlaybackDone, MessageTypePing:
	case "":
		return nil, fmt.Errorf("message missing type field")
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}

	return &msg, nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}
