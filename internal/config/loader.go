// Package config loads server settings from an optional config.yaml and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by the selectors in ProvidersConfig
const (
	ProviderLex        = "lex"
	ProviderGemini     = "gemini"
	ProviderPolly      = "polly"
	ProviderElevenLabs = "elevenlabs"
	ProviderSES        = "ses"
	ProviderSendGrid   = "sendgrid"
	ProviderS3         = "s3"
	ProviderBolt       = "bolt"
	ProviderDynamoDB   = "dynamodb"
	ProviderMongo      = "mongo"
	ProviderMemory     = "memory"
	ProviderRedis      = "redis"
)

var defaults = map[string]any{
	"http.port":             "8080",
	"http.shutdown_timeout": 10 * time.Second,
	"logging.level":         "info",

	"auth.jwt_secret":     "",
	"auth.hook_secret":    "",
	"auth.device_secrets": "",

	"audio.sample_rate":       16000,
	"audio.remove_silence":    true,
	"audio.silence_threshold": 0.26,
	"audio.auto_stop":         4 * time.Second,

	"camera.width":  320,
	"camera.height": 240,

	"engine.language":              "en",
	"engine.voice_id":              "",
	"engine.user_collection_id":    "users",
	"engine.patient_collection_id": "patients",
	"engine.face_match_threshold":  80.0,
	"engine.remote_timeout":        15 * time.Second,
	"engine.max_device_failures":   3,

	"challenge.ttl":            3 * time.Minute,
	"challenge.sweep_interval": time.Minute,

	"providers.resolver":        ProviderLex,
	"providers.tts":             ProviderPolly,
	"providers.code_sender":     ProviderSES,
	"providers.image_store":     ProviderS3,
	"providers.record_store":    ProviderDynamoDB,
	"providers.challenge_store": ProviderMemory,

	"aws.region":         "us-east-1",
	"aws.lex_bot_name":   "AllergyChecker",
	"aws.lex_bot_alias":  "$LATEST",
	"aws.image_bucket":   "",
	"aws.patients_table": "Patients",
	"aws.users_table":    "Users",
	"aws.ses_from":       "",

	"redis.url":        "redis://localhost:6379/0",
	"redis.key_prefix": "challenge:",

	"mongo.uri":      "mongodb://localhost:27017",
	"mongo.database": "allergy_checker",

	"bolt.path":     "images.db",
	"bolt.base_url": "http://localhost:8080/images",

	"sendgrid.api_key":    "",
	"sendgrid.from_email": "",
	"sendgrid.from_name":  "Allergy Checker",

	"elevenlabs.api_key":  "",
	"elevenlabs.voice_id": "",
	"elevenlabs.model_id": "",

	"gemini.api_key": "",
	"gemini.model":   "gemini-2.0-flash",

	"circuit_breaker.max_requests":      1,
	"circuit_breaker.interval":          time.Minute,
	"circuit_breaker.timeout":           30 * time.Second,
	"circuit_breaker.failure_threshold": 5,
}

// Load reads config.yaml from ./configs or the working directory when present,
// then applies environment overrides. Nested keys map to upper case env names
// with dots replaced by underscores (engine.remote_timeout is
// ENGINE_REMOTE_TIMEOUT).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names used by deployments and by the service SDKs themselves
	v.BindEnv("http.port", "PORT", "HTTP_PORT")
	v.BindEnv("logging.level", "LOG_LEVEL", "LOGGING_LEVEL")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET", "AUTH_JWT_SECRET")
	v.BindEnv("auth.hook_secret", "HOOK_SECRET", "AUTH_HOOK_SECRET")
	v.BindEnv("auth.device_secrets", "DEVICE_SECRETS", "AUTH_DEVICE_SECRETS")
	v.BindEnv("challenge.ttl", "CHALLENGE_TTL")
	v.BindEnv("engine.remote_timeout", "REMOTE_TIMEOUT", "ENGINE_REMOTE_TIMEOUT")
	v.BindEnv("providers.resolver", "RESOLVER_PROVIDER", "PROVIDERS_RESOLVER")
	v.BindEnv("providers.tts", "TTS_PROVIDER", "PROVIDERS_TTS")
	v.BindEnv("providers.code_sender", "CODE_SENDER", "PROVIDERS_CODE_SENDER")
	v.BindEnv("providers.image_store", "IMAGE_STORE", "PROVIDERS_IMAGE_STORE")
	v.BindEnv("providers.record_store", "RECORD_STORE", "PROVIDERS_RECORD_STORE")
	v.BindEnv("providers.challenge_store", "CHALLENGE_STORE", "PROVIDERS_CHALLENGE_STORE")
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("mongo.uri", "MONGODB_URI", "MONGO_URI")
	v.BindEnv("mongo.database", "MONGODB_DATABASE", "MONGO_DATABASE")
	v.BindEnv("sendgrid.api_key", "SENDGRID_API_KEY")
	v.BindEnv("elevenlabs.api_key", "ELEVEN_LABS_API_KEY", "ELEVENLABS_API_KEY")
	v.BindEnv("gemini.api_key", "GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable default
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT secret must be at least 16 characters")
	}
	if c.Engine.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be positive, got %s", c.Engine.RemoteTimeout)
	}
	if c.Engine.MaxDeviceFailures <= 0 {
		return fmt.Errorf("max device failures must be positive, got %d", c.Engine.MaxDeviceFailures)
	}
	if c.Engine.FaceMatchThreshold < 0 || c.Engine.FaceMatchThreshold > 100 {
		return fmt.Errorf("face match threshold must be between 0 and 100, got %f", c.Engine.FaceMatchThreshold)
	}

	selectors := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"resolver", c.Providers.Resolver, []string{ProviderLex, ProviderGemini}},
		{"tts", c.Providers.TTS, []string{ProviderPolly, ProviderElevenLabs}},
		{"code sender", c.Providers.CodeSender, []string{ProviderSES, ProviderSendGrid}},
		{"image store", c.Providers.ImageStore, []string{ProviderS3, ProviderBolt}},
		{"record store", c.Providers.RecordStore, []string{ProviderDynamoDB, ProviderMongo, ProviderMemory}},
		{"challenge store", c.Providers.Challenge, []string{ProviderRedis, ProviderMemory}},
	}
	for _, s := range selectors {
		if !contains(s.allowed, s.value) {
			return fmt.Errorf("unsupported %s provider %q, expected one of %s",
				s.name, s.value, strings.Join(s.allowed, ", "))
		}
	}

	if _, err := ParseDeviceSecrets(c.Auth.DeviceSecrets); err != nil {
		return err
	}
	return nil
}

// ParseDeviceSecrets parses "serial:secret,serial:secret"
func ParseDeviceSecrets(raw string) (map[string]string, error) {
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		serial, secret, ok := strings.Cut(pair, ":")
		serial, secret = strings.TrimSpace(serial), strings.TrimSpace(secret)
		if !ok || serial == "" || secret == "" {
			return nil, fmt.Errorf("invalid device secret entry %q, expected serial:secret", pair)
		}
		secrets[serial] = secret
	}
	return secrets, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
