package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.1
	defaultLanguage       = "en-US"
	defaultHistoryTurns   = 6
	defaultRetryAttempts  = 3
	defaultMaxOutputToken = 256
)

// GeminiConfig holds configuration for the Gemini intent resolver
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: model name (default: "gemini-2.0-flash")
// - Temperature: sampling temperature between 0 and 1 (default: 0.1)
// - Language: BCP-47 language of the spoken input (default: "en-US")
// - HistoryTurns: exchanges kept per user for slot filling (default: 6)
type GeminiConfig struct {
	APIKey       string
	Model        string
	Temperature  float32
	Language     string
	HistoryTurns int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	// Validate temperature is in the valid range
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	if config.HistoryTurns < 0 {
		return fmt.Errorf("history turns must be positive, got %d", config.HistoryTurns)
	}

	return nil
}

// NewGeminiClient creates a Gemini API client
func NewGeminiClient(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*genai.Client, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Gemini client created")
	return client, nil
}
