package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

const defaultPollyVoice = "Joanna"

// voices maps a speech language to the voice that speaks it
var voices = map[string]string{
	"en": "Joanna",
	"es": "Penelope",
	"tr": "Filiz",
	"fr": "Lea",
	"de": "Vicki",
	"it": "Carla",
}

// VoiceForLanguage returns the voice for a language code such as "en" or
// "en-US", falling back to English
func VoiceForLanguage(language string) string {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if voice, ok := voices[lang]; ok {
		return voice
	}
	return defaultPollyVoice
}

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyTTS synthesizes mp3 speech with Amazon Polly
type PollyTTS struct {
	client  pollyAPI
	voiceID string
	logger  *zap.Logger
}

var _ repositories.TextToSpeech = (*PollyTTS)(nil)

// NewPollyTTS creates a synthesizer speaking with voiceID by default
func NewPollyTTS(cfg awssdk.Config, voiceID string, logger *zap.Logger) *PollyTTS {
	return newPollyTTS(polly.NewFromConfig(cfg), voiceID, logger)
}

func newPollyTTS(client pollyAPI, voiceID string, logger *zap.Logger) *PollyTTS {
	if voiceID == "" {
		voiceID = defaultPollyVoice
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}
	return &PollyTTS{client: client, voiceID: voiceID, logger: logger}
}

// ConvertTextToSpeech synthesizes text. The request completes before
// returning; the audio is then streamed on the channel.
func (p *PollyTTS) ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if voiceID == "" {
		voiceID = p.voiceID
	}

	started := time.Now()
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         awssdk.String(text),
		VoiceId:      types.VoiceId(voiceID),
		OutputFormat: types.OutputFormatMp3,
		TextType:     types.TextTypeText,
	})
	if err := observe(servicePolly, started, err); err != nil {
		return nil, err
	}
	if out.AudioStream == nil {
		return nil, domain.NewRemoteServiceError(servicePolly, fmt.Errorf("empty audio stream"))
	}

	p.logger.Debug("Synthesized speech",
		zap.Int("textLength", len(text)),
		zap.String("voiceID", voiceID))

	return streamChunks(ctx, out.AudioStream, audioChunkSize), nil
}
