package entities

import (
	"encoding/binary"
	"time"
)

// AudioState is the lifecycle state of the single live audio session
type AudioState string

const (
	AudioStateIdle      AudioState = "idle"
	AudioStateRecording AudioState = "recording"
	AudioStateStopping  AudioState = "stopping"
	AudioStateDecoding  AudioState = "decoding"
)

// Utterance is one finalized unit of captured speech, trimmed and resampled.
// It is immutable after creation.
type Utterance struct {
	samples    []int16
	sampleRate int
	capturedAt time.Time
}

// NewUtterance copies samples so the utterance cannot be mutated by the caller
func NewUtterance(samples []int16, sampleRate int) Utterance {
	cp := make([]int16, len(samples))
	copy(cp, samples)
	return Utterance{samples: cp, sampleRate: sampleRate, capturedAt: time.Now()}
}

func (u Utterance) SampleRate() int       { return u.sampleRate }
func (u Utterance) Len() int              { return len(u.samples) }
func (u Utterance) CapturedAt() time.Time { return u.capturedAt }

// Samples returns a copy of the samples
func (u Utterance) Samples() []int16 {
	cp := make([]int16, len(u.samples))
	copy(cp, u.samples)
	return cp
}

// Duration is the playback length of the utterance
func (u Utterance) Duration() time.Duration {
	if u.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.samples)) * time.Second / time.Duration(u.sampleRate)
}

// PCM encodes the samples as little-endian signed 16-bit PCM
func (u Utterance) PCM() []byte {
	out := make([]byte, 2*len(u.samples))
	for i, s := range u.samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
