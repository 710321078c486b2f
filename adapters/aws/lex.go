package aws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lexruntimeservice"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

const (
	defaultBotAlias = "$LATEST"
	lexAccept       = "audio/mpeg"
)

type lexAPI interface {
	PostContent(ctx context.Context, params *lexruntimeservice.PostContentInput, optFns ...func(*lexruntimeservice.Options)) (*lexruntimeservice.PostContentOutput, error)
	PostText(ctx context.Context, params *lexruntimeservice.PostTextInput, optFns ...func(*lexruntimeservice.Options)) (*lexruntimeservice.PostTextOutput, error)
}

// LexConfig names the bot answering the conversation
type LexConfig struct {
	BotName  string
	BotAlias string
}

// ValidateLexConfig validates the LexConfig
func ValidateLexConfig(config LexConfig) error {
	if config.BotName == "" {
		return fmt.Errorf("lex bot name is required")
	}
	return nil
}

// LexResolver resolves utterances with an Amazon Lex (V1) bot
type LexResolver struct {
	client   lexAPI
	botName  string
	botAlias string
	logger   *zap.Logger
}

var _ repositories.IntentResolver = (*LexResolver)(nil)

// NewLexResolver creates a resolver for the configured bot
func NewLexResolver(cfg awssdk.Config, config LexConfig, logger *zap.Logger) (*LexResolver, error) {
	return newLexResolver(lexruntimeservice.NewFromConfig(cfg), config, logger)
}

func newLexResolver(client lexAPI, config LexConfig, logger *zap.Logger) (*LexResolver, error) {
	if err := ValidateLexConfig(config); err != nil {
		return nil, err
	}

	botAlias := config.BotAlias
	if botAlias == "" {
		botAlias = defaultBotAlias
		logger.Info("Using default bot alias", zap.String("botAlias", botAlias))
	}

	return &LexResolver{
		client:   client,
		botName:  config.BotName,
		botAlias: botAlias,
		logger:   logger,
	}, nil
}

// ResolveAudio sends one utterance as 16-bit PCM and asks for the reply as mpeg audio
func (l *LexResolver) ResolveAudio(ctx context.Context, utterance entities.Utterance, userID string) (*repositories.IntentResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if utterance.Len() == 0 {
		return nil, fmt.Errorf("utterance is empty")
	}

	started := time.Now()
	out, err := l.client.PostContent(ctx, &lexruntimeservice.PostContentInput{
		BotName:     awssdk.String(l.botName),
		BotAlias:    awssdk.String(l.botAlias),
		UserId:      awssdk.String(userID),
		ContentType: awssdk.String(fmt.Sprintf("audio/x-l16; sample-rate=%d", utterance.SampleRate())),
		Accept:      awssdk.String(lexAccept),
		InputStream: bytes.NewReader(utterance.PCM()),
	})
	if err != nil {
		return nil, observe(serviceLex, started, fmt.Errorf("failed to post content: %w", err))
	}

	var audio []byte
	if out.AudioStream != nil {
		audio, err = io.ReadAll(out.AudioStream)
		out.AudioStream.Close()
		if err != nil {
			return nil, observe(serviceLex, started, fmt.Errorf("failed to read reply audio: %w", err))
		}
	}
	observe(serviceLex, started, nil)

	slots, err := decodeSlots(awssdk.ToString(out.Slots))
	if err != nil {
		l.logger.Warn("Failed to decode slots", zap.Error(err))
	}

	result := &repositories.IntentResult{
		DialogState:     repositories.DialogState(out.DialogState),
		IntentName:      awssdk.ToString(out.IntentName),
		Slots:           slots,
		Message:         awssdk.ToString(out.Message),
		InputTranscript: awssdk.ToString(out.InputTranscript),
		Audio:           audio,
	}

	l.logger.Debug("Resolved audio intent",
		zap.String("userID", userID),
		zap.String("intent", result.IntentName),
		zap.String("dialogState", string(result.DialogState)),
		zap.String("transcript", result.InputTranscript))

	return result, nil
}

// ResolveText resolves a typed utterance
func (l *LexResolver) ResolveText(ctx context.Context, text string, userID string) (*repositories.IntentResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	started := time.Now()
	out, err := l.client.PostText(ctx, &lexruntimeservice.PostTextInput{
		BotName:   awssdk.String(l.botName),
		BotAlias:  awssdk.String(l.botAlias),
		UserId:    awssdk.String(userID),
		InputText: awssdk.String(text),
	})
	if err := observe(serviceLex, started, err); err != nil {
		return nil, err
	}

	return &repositories.IntentResult{
		DialogState:     repositories.DialogState(out.DialogState),
		IntentName:      awssdk.ToString(out.IntentName),
		Slots:           out.Slots,
		Message:         awssdk.ToString(out.Message),
		InputTranscript: text,
	}, nil
}

// decodeSlots reads the slot header, which is a JSON object that may arrive
// base64 encoded
func decodeSlots(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		data = decoded
	}

	var slots map[string]*string
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slots: %w", err)
	}

	result := make(map[string]string, len(slots))
	for name, value := range slots {
		if value != nil {
			result[name] = *value
		}
	}
	return result, nil
}
