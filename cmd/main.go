package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/adapters"
	"github.com/satriahrh/allergy-checker/adapters/aws"
	"github.com/satriahrh/allergy-checker/adapters/bolt"
	"github.com/satriahrh/allergy-checker/adapters/llm"
	"github.com/satriahrh/allergy-checker/adapters/mongo"
	"github.com/satriahrh/allergy-checker/adapters/redis"
	"github.com/satriahrh/allergy-checker/adapters/resilient"
	"github.com/satriahrh/allergy-checker/adapters/sendgrid"
	"github.com/satriahrh/allergy-checker/adapters/stt"
	"github.com/satriahrh/allergy-checker/adapters/tts"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/api"
	"github.com/satriahrh/allergy-checker/internal/audio"
	"github.com/satriahrh/allergy-checker/internal/auth"
	"github.com/satriahrh/allergy-checker/internal/challenge"
	"github.com/satriahrh/allergy-checker/internal/config"
	"github.com/satriahrh/allergy-checker/internal/engine"
	"github.com/satriahrh/allergy-checker/internal/saga"
	"github.com/satriahrh/allergy-checker/internal/saga/enrollment"
	"github.com/satriahrh/allergy-checker/internal/websocket"
)

// closers are released in reverse order on shutdown
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	// Load .env for local runs, the environment wins over it
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.closeAll()

	awsCfg, err := aws.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	breaker := resilient.Settings{
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
	}

	// Initialize adapters
	resolver, err := newResolver(ctx, cfg, awsCfg, &cleanup, logger)
	if err != nil {
		logger.Fatal("Failed to create intent resolver", zap.Error(err))
	}
	speaker, voiceID, err := newTextToSpeech(cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create text to speech", zap.Error(err))
	}
	sender, err := newCodeSender(cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create code sender", zap.Error(err))
	}
	images, imageReader, err := newImageStore(cfg, awsCfg, &cleanup, logger)
	if err != nil {
		logger.Fatal("Failed to create image store", zap.Error(err))
	}
	patients, users, err := newRecordStores(ctx, cfg, awsCfg, &cleanup, logger)
	if err != nil {
		logger.Fatal("Failed to create record stores", zap.Error(err))
	}
	sessions, err := newChallengeStore(ctx, cfg, &cleanup, logger)
	if err != nil {
		logger.Fatal("Failed to create challenge store", zap.Error(err))
	}
	rekognition := aws.NewRekognition(awsCfg, logger)
	guardedResolver := resilient.NewResolver(resolver, breaker, logger)

	// Initialize login and enrollment
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}
	deviceSecrets, err := config.ParseDeviceSecrets(cfg.Auth.DeviceSecrets)
	if err != nil {
		logger.Fatal("Invalid device secrets", zap.Error(err))
	}

	protocol := challenge.NewProtocol(sessions, sender, cfg.Challenge.TTL, logger)
	sweeper := challenge.NewSweeper(protocol, cfg.Challenge.SweepInterval, logger)
	sweeper.Start()
	cleanup.add(sweeper.Stop)

	authenticator := auth.NewAuthenticator(protocol, users, issuer, logger)
	enroller := enrollment.NewEnroller(saga.NewManager(logger), images, patients, rekognition, cfg.Engine.PatientCollectionID, logger)

	// Initialize WebSocket hub, one conversation per device
	hub := websocket.NewHub(websocket.SessionConfig{
		Audio: audio.Config{
			SampleRate:       cfg.Audio.SampleRate,
			RemoveSilence:    cfg.Audio.RemoveSilence,
			SilenceThreshold: cfg.Audio.SilenceThreshold,
			AutoStop:         cfg.Audio.AutoStop,
		},
		Engine: engine.Config{
			VoiceID:             voiceID,
			UserCollectionID:    cfg.Engine.UserCollectionID,
			PatientCollectionID: cfg.Engine.PatientCollectionID,
			FaceMatchThreshold:  cfg.Engine.FaceMatchThreshold,
			RemoteTimeout:       cfg.Engine.RemoteTimeout,
			MaxDeviceFailures:   cfg.Engine.MaxDeviceFailures,
		},
		Services: engine.Services{
			Resolver:      guardedResolver,
			TTS:           resilient.NewSpeech(speaker, breaker, logger),
			Faces:         resilient.NewFaces(rekognition, breaker, logger),
			Text:          resilient.NewText(rekognition, breaker, logger),
			Patients:      patients,
			Enroller:      enroller,
			Authenticator: authenticator,
		},
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	}, logger)
	go hub.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Hub:        hub,
		Devices:    auth.NewDeviceRegistry(deviceSecrets),
		Issuer:     issuer,
		Hooks:      challenge.NewHooks(sender, logger),
		Resolver:   guardedResolver,
		HookSecret: cfg.Auth.HookSecret,
		Images:     imageReader,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.HTTP.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.HTTP.Port),
		zap.String("resolver", cfg.Providers.Resolver),
		zap.String("tts", cfg.Providers.TTS),
		zap.String("recordStore", cfg.Providers.RecordStore))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func newResolver(ctx context.Context, cfg *config.Config, awsCfg awssdk.Config, cleanup *closers, logger *zap.Logger) (repositories.IntentResolver, error) {
	switch cfg.Providers.Resolver {
	case config.ProviderGemini:
		transcriber, err := stt.NewGoogleSpeechToText(ctx, logger)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { transcriber.Close() })

		geminiConfig := llm.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}
		// Speech recognition needs a regional code such as en-US
		if strings.Contains(cfg.Engine.Language, "-") {
			geminiConfig.Language = cfg.Engine.Language
		}
		client, err := llm.NewGeminiClient(ctx, geminiConfig, logger)
		if err != nil {
			return nil, err
		}
		return llm.NewGeminiIntentResolver(client, transcriber, geminiConfig, logger)
	default:
		return aws.NewLexResolver(awsCfg, aws.LexConfig{
			BotName:  cfg.AWS.LexBotName,
			BotAlias: cfg.AWS.LexBotAlias,
		}, logger)
	}
}

// newTextToSpeech returns the synthesizer and the voice the engine asks for
func newTextToSpeech(cfg *config.Config, awsCfg awssdk.Config, logger *zap.Logger) (repositories.TextToSpeech, string, error) {
	switch cfg.Providers.TTS {
	case config.ProviderElevenLabs:
		speaker, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabs.APIKey,
			VoiceID: cfg.ElevenLabs.VoiceID,
			ModelID: cfg.ElevenLabs.ModelID,
		}, logger)
		return speaker, cfg.ElevenLabs.VoiceID, err
	default:
		voiceID := cfg.Engine.VoiceID
		if voiceID == "" {
			voiceID = aws.VoiceForLanguage(cfg.Engine.Language)
		}
		return aws.NewPollyTTS(awsCfg, voiceID, logger), voiceID, nil
	}
}

func newCodeSender(cfg *config.Config, awsCfg awssdk.Config, logger *zap.Logger) (repositories.CodeSender, error) {
	switch cfg.Providers.CodeSender {
	case config.ProviderSendGrid:
		return sendgrid.NewSender(sendgrid.Config{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
		}, logger)
	default:
		return aws.NewSESSender(awsCfg, cfg.AWS.SESFrom, logger)
	}
}

// newImageStore also returns the reader behind /images when pictures are
// served by this process
func newImageStore(cfg *config.Config, awsCfg awssdk.Config, cleanup *closers, logger *zap.Logger) (repositories.ImageStore, api.ImageReader, error) {
	switch cfg.Providers.ImageStore {
	case config.ProviderBolt:
		store, err := bolt.NewImageStore(bolt.Config{Path: cfg.Bolt.Path, BaseURL: cfg.Bolt.BaseURL}, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { store.Close() })
		return store, store, nil
	default:
		store, err := aws.NewS3ImageStore(awsCfg, cfg.AWS.ImageBucket, logger)
		return store, nil, err
	}
}

func newRecordStores(ctx context.Context, cfg *config.Config, awsCfg awssdk.Config, cleanup *closers, logger *zap.Logger) (repositories.PatientRepository, repositories.UserDirectory, error) {
	switch cfg.Providers.RecordStore {
	case config.ProviderMongo:
		client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(closeCtx)
		})
		return mongo.NewPatientRepository(client.Database), mongo.NewUserDirectory(client.Database), nil
	case config.ProviderMemory:
		logger.Warn("Using in-memory records, patients and users are lost on restart")
		return adapters.NewMemoryPatientRepository(), adapters.NewMemoryUserDirectory(), nil
	default:
		return aws.NewDynamoPatientRepository(awsCfg, cfg.AWS.PatientsTable, logger),
			aws.NewDynamoUserDirectory(awsCfg, cfg.AWS.UsersTable), nil
	}
}

func newChallengeStore(ctx context.Context, cfg *config.Config, cleanup *closers, logger *zap.Logger) (repositories.ChallengeSessionStore, error) {
	switch cfg.Providers.Challenge {
	case config.ProviderRedis:
		store, err := redis.NewChallengeSessionStore(ctx, redis.Config{URL: cfg.Redis.URL, KeyPrefix: cfg.Redis.KeyPrefix}, logger)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { store.Close() })
		return store, nil
	default:
		return adapters.NewMemoryChallengeSessionStore(), nil
	}
}
