package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/metrics"
)

const serviceGoogleSpeech = "google_speech"

// GoogleSpeechToText transcribes utterances with Google Cloud Speech-to-Text.
// One gRPC client is shared by all streams.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText dials the speech service with application default
// credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	logger.Info("Google speech client created")
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// InitTranscribeStreaming opens a single utterance recognition stream
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, observe(started, fmt.Errorf("failed to create streaming recognize: %w", err))
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				InterimResults:  false,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, observe(started, fmt.Errorf("failed to send streaming config: %w", err))
	}

	return &GoogleSpeechToTextStream{
		stream:  stream,
		ctx:     ctx,
		started: started,
		logger:  g.logger,
		result:  make(chan string, 1),
		errs:    make(chan error, 1),
	}, nil
}

// TranscribeAudio sends the whole utterance over one stream and waits for
// the final transcript
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		return "", err
	}
	return stream.End()
}

// GoogleSpeechToTextStream is one recognition stream
type GoogleSpeechToTextStream struct {
	stream        speechpb.Speech_StreamingRecognizeClient
	ctx           context.Context
	started       time.Time
	logger        *zap.Logger
	audioReceived bool
	receiver      sync.Once
	result        chan string
	errs          chan error
}

// Stream sends one chunk of audio
func (s *GoogleSpeechToTextStream) Stream(data []byte) error {
	s.receiver.Do(func() { go s.receiveResults() })

	if len(data) == 0 {
		return nil
	}
	s.audioReceived = true

	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: data},
	}); err != nil {
		return observe(s.started, fmt.Errorf("failed to send audio data: %w", err))
	}
	return nil
}

// End closes the send side and returns the final transcript. An utterance
// with no recognizable speech yields an empty transcript, not an error.
func (s *GoogleSpeechToTextStream) End() (string, error) {
	if !s.audioReceived {
		s.stream.CloseSend()
		return "", fmt.Errorf("no audio data received")
	}
	if err := s.stream.CloseSend(); err != nil {
		return "", observe(s.started, fmt.Errorf("failed to close send stream: %w", err))
	}

	select {
	case <-s.ctx.Done():
		return "", observe(s.started, fmt.Errorf("context cancelled while waiting for result: %w", s.ctx.Err()))
	case err := <-s.errs:
		return "", observe(s.started, err)
	case transcript := <-s.result:
		observe(s.started, nil)
		s.logger.Debug("Transcribed utterance", zap.Int("transcriptLength", len(transcript)))
		return transcript, nil
	}
}

func (s *GoogleSpeechToTextStream) receiveResults() {
	var transcript string
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.result <- transcript
			return
		}
		if err != nil {
			s.errs <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				transcript = result.Alternatives[0].Transcript
			}
		}
	}
}

func observe(started time.Time, err error) error {
	metrics.ObserveRemote(serviceGoogleSpeech, started, err)
	return domain.NewRemoteServiceError(serviceGoogleSpeech, err)
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
