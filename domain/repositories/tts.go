package repositories

import "context"

// TextToSpeech streams synthesized audio. An empty voiceID selects the
// adapter's default voice.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (<-chan []byte, error)
}
