package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

// Buffer is mono float audio in [-1,1] at its native rate
type Buffer struct {
	Samples    []float64
	SampleRate int
}

var errEmptyInput = errors.New("no audio data received")

// Decode turns captured bytes into a mono float buffer. Only the first
// channel of multi-channel input is kept.
func Decode(raw []byte, format Format) (Buffer, error) {
	if len(raw) == 0 {
		return Buffer{}, errEmptyInput
	}

	switch format.Encoding {
	case EncodingWAV:
		return decodeWAV(raw)
	case EncodingPCMS16LE, "":
		return decodePCM16(raw, format)
	case EncodingPCMF32LE:
		return decodePCMFloat(raw, format)
	default:
		return Buffer{}, fmt.Errorf("unsupported encoding: %s", format.Encoding)
	}
}

func decodeWAV(raw []byte) (Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return Buffer{}, errors.New("invalid wav data")
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read wav samples: %w", err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate <= 0 {
		return Buffer{}, errors.New("wav data has no sample rate")
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}

	frames := len(pcm.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		out[i] = normalizeInt(pcm.Data[i*channels], depth)
	}
	return Buffer{Samples: out, SampleRate: pcm.Format.SampleRate}, nil
}

// normalizeInt maps an integer sample of the given bit depth into [-1,1].
// 8-bit wav samples are unsigned.
func normalizeInt(v, depth int) float64 {
	if depth == 8 {
		return float64(v-128) / 128
	}
	return float64(v) / float64(int64(1)<<(depth-1))
}

func decodePCM16(raw []byte, format Format) (Buffer, error) {
	if format.SampleRate <= 0 {
		return Buffer{}, errors.New("pcm data needs a native sample rate")
	}
	channels := max(format.Channels, 1)
	frameSize := 2 * channels
	if len(raw)%frameSize != 0 {
		return Buffer{}, fmt.Errorf("pcm data length %d is not a multiple of frame size %d", len(raw), frameSize)
	}

	frames := len(raw) / frameSize
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*frameSize:]))
		out[i] = float64(s) / 32768
	}
	return Buffer{Samples: out, SampleRate: format.SampleRate}, nil
}

func decodePCMFloat(raw []byte, format Format) (Buffer, error) {
	if format.SampleRate <= 0 {
		return Buffer{}, errors.New("pcm data needs a native sample rate")
	}
	channels := max(format.Channels, 1)
	frameSize := 4 * channels
	if len(raw)%frameSize != 0 {
		return Buffer{}, fmt.Errorf("pcm data length %d is not a multiple of frame size %d", len(raw), frameSize)
	}

	frames := len(raw) / frameSize
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*frameSize:])))
	}
	return Buffer{Samples: out, SampleRate: format.SampleRate}, nil
}
