package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
)

type fakeMic struct {
	mu       sync.Mutex
	format   Format
	startErr error
	starts   int
	stops    int
	releases int
}

func (m *fakeMic) StartCapture(ctx context.Context) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.format, m.startErr
}

func (m *fakeMic) StopCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMic) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return nil
}

func (m *fakeMic) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

func pcm16(samples ...float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*32767))))
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newTestRecorder(t *testing.T, mic *fakeMic, autoStop time.Duration) *Recorder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AutoStop = autoStop
	r, err := NewRecorder(cfg, mic, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	return r
}

func TestRecorder_RecordTrimsAndResamples(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 48000, Channels: 1}}
	r := newTestRecorder(t, mic, 0)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if r.State() != entities.AudioStateRecording {
		t.Errorf("Expected state recording, got %s", r.State())
	}

	// 0.1s quiet, 0.5s loud, 0.1s quiet at 48kHz
	r.Append(pcm16(repeat(0.01, 4800)...))
	r.Append(pcm16(repeat(0.8, 24000)...))
	r.Append(pcm16(repeat(-0.02, 4800)...))
	r.Stop()

	utterance, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if utterance.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", utterance.SampleRate())
	}
	// the loud stretch becomes ~8000 samples; interpolation at the edges may add one
	if n := utterance.Len(); n < 7999 || n > 8001 {
		t.Errorf("Expected about 8000 samples, got %d", n)
	}
	for _, s := range utterance.Samples() {
		if math.Abs(float64(s)) < 0.26*32767 {
			t.Fatalf("Utterance still starts or ends with silence: %d", s)
		}
	}
	if r.State() != entities.AudioStateIdle {
		t.Errorf("Expected state idle after decoding, got %s", r.State())
	}
}

func TestRecorder_StartWhileRecordingIsBusy(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}}
	r := newTestRecorder(t, mic, 0)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if mic.starts != 1 {
		t.Errorf("Expected microphone started once, got %d", mic.starts)
	}
	if !r.Append(pcm16(0.9, 0.9)) {
		t.Error("Expected the first recording to keep accepting chunks")
	}
}

func TestRecorder_AllSilentYieldsErrSilence(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}}
	r := newTestRecorder(t, mic, 0)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Append(pcm16(repeat(0.1, 1600)...))
	r.Stop()

	if _, err := r.Wait(ctx); !errors.Is(err, ErrSilence) {
		t.Errorf("Expected ErrSilence, got %v", err)
	}
}

func TestRecorder_NoChunksYieldsErrSilence(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingWAV}}
	r := newTestRecorder(t, mic, 0)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Stop()

	if _, err := r.Wait(ctx); !errors.Is(err, ErrSilence) {
		t.Errorf("Expected ErrSilence, got %v", err)
	}
}

func TestRecorder_AutoStop(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}}
	r := newTestRecorder(t, mic, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Append(pcm16(repeat(0.5, 160)...))

	utterance, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Expected auto stop to finish the recording, got %v", err)
	}
	if utterance.Len() != 160 {
		t.Errorf("Expected 160 samples, got %d", utterance.Len())
	}
}

func TestRecorder_StartFailureIsDeviceUnavailable(t *testing.T) {
	mic := &fakeMic{startErr: errors.New("permission denied")}
	r := newTestRecorder(t, mic, 0)

	err := r.Start(context.Background())
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if r.State() != entities.AudioStateIdle {
		t.Errorf("Expected state idle, got %s", r.State())
	}
}

func TestRecorder_DestroyWhileRecording(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}}
	r := newTestRecorder(t, mic, 0)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Append(pcm16(0.9, 0.9))
	r.Destroy()

	if _, err := r.Wait(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed, got %v", err)
	}
	if got := mic.releaseCount(); got != 1 {
		t.Errorf("Expected microphone released once, got %d", got)
	}
	if err := r.Start(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected Start after Destroy to fail, got %v", err)
	}
}

func TestRecorder_DestroyWhileIdleReleasesImmediately(t *testing.T) {
	mic := &fakeMic{}
	r := newTestRecorder(t, mic, 0)

	r.Destroy()
	r.Destroy()
	if got := mic.releaseCount(); got != 1 {
		t.Errorf("Expected microphone released once, got %d", got)
	}
}

func TestRecorder_WaitCancelled(t *testing.T) {
	mic := &fakeMic{format: Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}}
	r := newTestRecorder(t, mic, 0)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if r.State() != entities.AudioStateIdle {
		t.Errorf("Expected state idle, got %s", r.State())
	}
}

func TestRecorder_AppendOutsideRecordingDropped(t *testing.T) {
	r := newTestRecorder(t, &fakeMic{}, 0)
	if r.Append([]byte{0, 1}) {
		t.Error("Expected chunk to be dropped while idle")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"threshold above one", func(c *Config) { c.SilenceThreshold = 1.5 }, true},
		{"negative auto stop", func(c *Config) { c.AutoStop = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// blockingMic holds StartCapture until the test decides how it ends
type blockingMic struct {
	fakeMic
	startCalled chan struct{}
	startResult chan error
	stopCalled  chan struct{}
}

func (m *blockingMic) StartCapture(ctx context.Context) (Format, error) {
	close(m.startCalled)
	err := <-m.startResult
	return Format{Encoding: EncodingPCMS16LE, SampleRate: 16000}, err
}

func (m *blockingMic) StopCapture(ctx context.Context) error {
	m.fakeMic.StopCapture(ctx)
	close(m.stopCalled)
	return nil
}

func TestRecorder_StopDuringFailedStart(t *testing.T) {
	mic := &blockingMic{
		startCalled: make(chan struct{}),
		startResult: make(chan error),
		stopCalled:  make(chan struct{}),
	}
	cfg := DefaultConfig()
	cfg.AutoStop = 0
	r, err := NewRecorder(cfg, mic, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	started := make(chan error, 1)
	go func() { started <- r.Start(context.Background()) }()

	<-mic.startCalled
	r.Stop()
	<-mic.stopCalled
	mic.startResult <- errors.New("listening_started timed out")

	if err := <-started; !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Errorf("Expected Wait to report the failed start, got %v", err)
	}
	if r.State() != entities.AudioStateIdle {
		t.Errorf("Expected state idle, got %s", r.State())
	}

	// The recorder is usable again
	mic.startCalled = make(chan struct{})
	mic.stopCalled = make(chan struct{})
	go func() { mic.startResult <- nil }()
	if err := r.Start(context.Background()); err != nil {
		t.Errorf("Expected a new recording to start, got %v", err)
	}
}
