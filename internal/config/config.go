package config

import "time"

type Config struct {
	HTTP           HTTPConfig           `mapstructure:"http"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Audio          AudioConfig          `mapstructure:"audio"`
	Camera         CameraConfig         `mapstructure:"camera"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Challenge      ChallengeConfig      `mapstructure:"challenge"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
	AWS            AWSConfig            `mapstructure:"aws"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Mongo          MongoConfig          `mapstructure:"mongo"`
	Bolt           BoltConfig           `mapstructure:"bolt"`
	SendGrid       SendGridConfig       `mapstructure:"sendgrid"`
	ElevenLabs     ElevenLabsConfig     `mapstructure:"elevenlabs"`
	Gemini         GeminiConfig         `mapstructure:"gemini"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	HookSecret string `mapstructure:"hook_secret"`
	// DeviceSecrets is a comma separated list of serial:secret pairs
	DeviceSecrets string `mapstructure:"device_secrets"`
}

type AudioConfig struct {
	SampleRate       int           `mapstructure:"sample_rate"`
	RemoveSilence    bool          `mapstructure:"remove_silence"`
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	AutoStop         time.Duration `mapstructure:"auto_stop"`
}

type CameraConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type EngineConfig struct {
	Language            string        `mapstructure:"language"`
	VoiceID             string        `mapstructure:"voice_id"`
	UserCollectionID    string        `mapstructure:"user_collection_id"`
	PatientCollectionID string        `mapstructure:"patient_collection_id"`
	FaceMatchThreshold  float64       `mapstructure:"face_match_threshold"`
	RemoteTimeout       time.Duration `mapstructure:"remote_timeout"`
	MaxDeviceFailures   int           `mapstructure:"max_device_failures"`
}

type ChallengeConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ProvidersConfig selects the adapter backing each remote concern
type ProvidersConfig struct {
	Resolver    string `mapstructure:"resolver"`
	TTS         string `mapstructure:"tts"`
	CodeSender  string `mapstructure:"code_sender"`
	ImageStore  string `mapstructure:"image_store"`
	RecordStore string `mapstructure:"record_store"`
	Challenge   string `mapstructure:"challenge_store"`
}

type AWSConfig struct {
	Region        string `mapstructure:"region"`
	LexBotName    string `mapstructure:"lex_bot_name"`
	LexBotAlias   string `mapstructure:"lex_bot_alias"`
	ImageBucket   string `mapstructure:"image_bucket"`
	PatientsTable string `mapstructure:"patients_table"`
	UsersTable    string `mapstructure:"users_table"`
	SESFrom       string `mapstructure:"ses_from"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BoltConfig struct {
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url"`
}

type SendGridConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

type ElevenLabsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}
