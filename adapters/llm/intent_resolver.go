package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/metrics"
)

const serviceGemini = "gemini"

const systemPrompt = `You classify what a clinician says to an allergy checking kiosk.
Answer with one JSON object and nothing else:
{"intent": "...", "patientName": "...", "allergen": "..."}
intent is one of:
- "AddPatient": the clinician wants to register a new patient
- "CheckPatient": the clinician wants to check the allergies of a patient
- "Shoot": the clinician asks to take the picture now ("shoot", "take it", "cheese")
- "Logout": the clinician wants to log out or leave
- "": anything else
For AddPatient, fill patientName and allergen when they were said in this or an
earlier message of the conversation. Use "none" as allergen when the patient has
no allergy. Leave unknown values empty.`

var slotPrompts = []struct {
	slot   string
	prompt func(slots map[string]string) string
}{
	{repositories.SlotPatientName, func(map[string]string) string {
		return "What is the name of the patient?"
	}},
	{repositories.SlotAllergen, func(slots map[string]string) string {
		return fmt.Sprintf(`What is %s allergic to? Say "none" if there is no allergy.`, slots[repositories.SlotPatientName])
	}},
}

const msgElicitIntent = `Sorry, I didn't get that. You can say "add patient", "check patient" or "shoot".`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type classification struct {
	Intent      string `json:"intent"`
	PatientName string `json:"patientName"`
	Allergen    string `json:"allergen"`
}

// GeminiIntentResolver resolves intents by transcribing speech and asking
// Gemini to classify the transcript. Slot filling spans turns of the same
// user, so the resolver keeps a short history per user ID.
type GeminiIntentResolver struct {
	generator   contentGenerator
	transcriber repositories.SpeechToText
	model       string
	temperature float32
	language    string
	maxHistory  int
	logger      *zap.Logger

	mu      sync.Mutex
	history map[string][]*genai.Content
}

var _ repositories.IntentResolver = (*GeminiIntentResolver)(nil)

// NewGeminiIntentResolver creates the resolver
func NewGeminiIntentResolver(client *genai.Client, transcriber repositories.SpeechToText, config GeminiConfig, logger *zap.Logger) (*GeminiIntentResolver, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	return newGeminiIntentResolver(client.Models, transcriber, config, logger), nil
}

func newGeminiIntentResolver(generator contentGenerator, transcriber repositories.SpeechToText, config GeminiConfig, logger *zap.Logger) *GeminiIntentResolver {
	// Apply defaults where needed
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	language := config.Language
	if language == "" {
		language = defaultLanguage
		logger.Info("Using default language", zap.String("language", language))
	}

	maxHistory := config.HistoryTurns
	if maxHistory == 0 {
		maxHistory = defaultHistoryTurns
		logger.Info("Using default history turns", zap.Int("historyTurns", maxHistory))
	}

	return &GeminiIntentResolver{
		generator:   generator,
		transcriber: transcriber,
		model:       model,
		temperature: temperature,
		language:    language,
		maxHistory:  maxHistory,
		logger:      logger,
		history:     make(map[string][]*genai.Content),
	}
}

// ResolveAudio transcribes the utterance and resolves the transcript
func (g *GeminiIntentResolver) ResolveAudio(ctx context.Context, utterance entities.Utterance, userID string) (*repositories.IntentResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	transcript, err := g.transcriber.TranscribeAudio(ctx, utterance.PCM(), repositories.AudioConfig{
		SampleRate: utterance.SampleRate(),
		Encoding:   "LINEAR16",
		Language:   g.language,
	})
	if err != nil {
		return nil, err
	}

	return g.ResolveText(ctx, transcript, userID)
}

// ResolveText classifies text in the context of the user's recent turns
func (g *GeminiIntentResolver) ResolveText(ctx context.Context, text string, userID string) (*repositories.IntentResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &repositories.IntentResult{DialogState: repositories.DialogStateElicitIntent, Message: msgElicitIntent}, nil
	}

	userContent := genai.NewContentFromText(text, genai.RoleUser)
	contents := append(g.recent(userID), userContent)

	raw, err := g.generate(ctx, contents)
	if err != nil {
		return nil, err
	}

	var c classification
	if err := json.Unmarshal([]byte(stripFence(raw)), &c); err != nil {
		return nil, domain.NewRemoteServiceError(serviceGemini, fmt.Errorf("failed to parse classification %q: %w", raw, err))
	}

	result := toResult(c, text)
	if result.Finished() || result.IntentName == "" {
		g.forget(userID)
	} else {
		g.remember(userID, userContent, genai.NewContentFromText(raw, genai.RoleModel))
	}

	g.logger.Debug("Resolved text intent",
		zap.String("userID", userID),
		zap.String("intent", result.IntentName),
		zap.String("dialogState", string(result.DialogState)))

	return result, nil
}

func (g *GeminiIntentResolver) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   defaultMaxOutputToken,
		ResponseMIMEType:  "application/json",
	}

	started := time.Now()
	var response *genai.GenerateContentResponse
	var err error
retry:
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		response, err = g.generator.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < defaultRetryAttempts-1 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retry
			case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
			}
		}
	}
	metrics.ObserveRemote(serviceGemini, started, err)
	if err != nil {
		return "", domain.NewRemoteServiceError(serviceGemini, err)
	}

	var text strings.Builder
	if len(response.Candidates) > 0 && response.Candidates[0].Content != nil {
		for _, part := range response.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", domain.NewRemoteServiceError(serviceGemini, fmt.Errorf("empty response"))
	}
	return text.String(), nil
}

func toResult(c classification, transcript string) *repositories.IntentResult {
	result := &repositories.IntentResult{
		IntentName:      c.Intent,
		InputTranscript: transcript,
	}

	switch c.Intent {
	case repositories.IntentAddPatient:
		result.Slots = map[string]string{}
		if name := strings.TrimSpace(c.PatientName); name != "" {
			result.Slots[repositories.SlotPatientName] = name
		}
		if allergen := strings.TrimSpace(c.Allergen); allergen != "" {
			result.Slots[repositories.SlotAllergen] = allergen
		}
		for _, sp := range slotPrompts {
			if result.Slots[sp.slot] == "" {
				result.DialogState = repositories.DialogStateElicitSlot
				result.Message = sp.prompt(result.Slots)
				return result
			}
		}
		result.DialogState = repositories.DialogStateReadyForFulfillment
	case repositories.IntentCheckPatient, repositories.IntentShoot, repositories.IntentLogout:
		result.DialogState = repositories.DialogStateReadyForFulfillment
	default:
		result.IntentName = ""
		result.DialogState = repositories.DialogStateElicitIntent
		result.Message = msgElicitIntent
	}
	return result
}

// stripFence removes a markdown code fence some models wrap JSON in
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (g *GeminiIntentResolver) recent(userID string) []*genai.Content {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.history[userID]
	out := make([]*genai.Content, len(h), len(h)+1)
	copy(out, h)
	return out
}

func (g *GeminiIntentResolver) remember(userID string, turn ...*genai.Content) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := append(g.history[userID], turn...)
	if limit := 2 * g.maxHistory; len(h) > limit {
		h = h[len(h)-limit:]
	}
	g.history[userID] = h
}

func (g *GeminiIntentResolver) forget(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.history, userID)
}
