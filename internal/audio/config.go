package audio

import (
	"fmt"
	"time"
)

const (
	defaultSampleRate       = 16000
	defaultSilenceThreshold = 0.26
	defaultAutoStop         = 4000 * time.Millisecond
	stopAckTimeout          = 5 * time.Second
)

// Config controls capture and conditioning of one recording
type Config struct {
	SampleRate       int           // target rate of emitted utterances
	RemoveSilence    bool          // trim leading and trailing silence
	SilenceThreshold float64       // amplitude in [0,1] below which a sample is silent
	AutoStop         time.Duration // watchdog that stops a recording, 0 disables it
}

// DefaultConfig returns the settings the speech resolver expects
func DefaultConfig() Config {
	return Config{
		SampleRate:       defaultSampleRate,
		RemoveSilence:    true,
		SilenceThreshold: defaultSilenceThreshold,
		AutoStop:         defaultAutoStop,
	}
}

// Validate validates the Config
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be between 0 and 1, got %f", c.SilenceThreshold)
	}
	if c.AutoStop < 0 {
		return fmt.Errorf("auto stop must not be negative, got %s", c.AutoStop)
	}
	return nil
}

// Encoding names the container/sample format of captured bytes
type Encoding string

const (
	EncodingWAV      Encoding = "wav"
	EncodingPCMS16LE Encoding = "pcm_s16le"
	EncodingPCMF32LE Encoding = "pcm_f32le"
)

// Format describes what the microphone produces
type Format struct {
	Encoding   Encoding `json:"encoding"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
}
