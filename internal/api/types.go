package api

import (
	"time"

	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/engine"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SecretKey    string `json:"secret_key" validate:"required"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// TextIntentRequest carries a typed utterance for the text intent path
type TextIntentRequest struct {
	Text string `json:"text" validate:"required"`
}

// TextIntentResponse is the resolver's answer to a typed utterance
type TextIntentResponse struct {
	DeviceID string                    `json:"device_id"`
	Result   *repositories.IntentResult `json:"result"`
}

// DeviceStatusResponse describes the conversation of a connected device
type DeviceStatusResponse struct {
	DeviceID string        `json:"device_id"`
	Status   engine.Status `json:"status"`
}

// DevicesResponse lists connected devices
type DevicesResponse struct {
	Devices []string `json:"devices"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
