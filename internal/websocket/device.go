package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/internal/audio"
	"github.com/satriahrh/allergy-checker/internal/engine"
	"github.com/satriahrh/allergy-checker/internal/vision"
)

const (
	// Time the device gets to acknowledge a control message
	ackTimeout = 5 * time.Second

	// Time allowed for one response to finish playing
	playbackTimeout = 60 * time.Second

	speechContentType = "audio/mpeg"
)

var (
	errConnectionClosed = errors.New("connection closed")

	_ audio.Microphone = (*Device)(nil)
	_ vision.Camera    = (*Device)(nil)
	_ engine.Speaker   = (*Device)(nil)
)

// Device is the remote microphone, camera, screen and speaker of one
// connected client. Requests that need an answer wait for the matching
// acknowledgement from the device.
type Device struct {
	send       chan<- WriteData
	done       <-chan struct{}
	sampleRate int
	logger     *zap.Logger

	mu   sync.Mutex
	acks map[MessageType]chan *InboundMessage
}

func newDevice(send chan<- WriteData, done <-chan struct{}, sampleRate int, logger *zap.Logger) *Device {
	return &Device{
		send:       send,
		done:       done,
		sampleRate: sampleRate,
		logger:     logger,
		acks:       make(map[MessageType]chan *InboundMessage),
	}
}

// StartCapture implements audio.Microphone
func (d *Device) StartCapture(ctx context.Context) (audio.Format, error) {
	ack, err := d.request(ctx, ackTimeout, &ListeningStartMessage{
		BaseMessage: newBase(MessageTypeListeningStart),
		SampleRate:  d.sampleRate,
	}, MessageTypeListeningStarted)
	if err != nil {
		return audio.Format{}, err
	}
	if ack.Error != "" {
		return audio.Format{}, fmt.Errorf("device refused microphone: %s", ack.Error)
	}
	return *ack.Format, nil
}

// StopCapture implements audio.Microphone. The device acknowledges after
// its last chunk.
func (d *Device) StopCapture(ctx context.Context) error {
	_, err := d.request(ctx, ackTimeout, newBase(MessageTypeListeningEnd), MessageTypeListeningStopped)
	return err
}

// Release implements audio.Microphone
func (d *Device) Release() error {
	return d.release("microphone")
}

// Open implements vision.Camera
func (d *Device) Open(ctx context.Context, target string, width, height int) error {
	ack, err := d.request(ctx, ackTimeout, &CameraOpenMessage{
		BaseMessage: newBase(MessageTypeCameraOpen),
		Target:      target,
		Width:       width,
		Height:      height,
	}, MessageTypeCameraReady)
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("device refused camera: %s", ack.Error)
	}
	return nil
}

// RequestFrame implements vision.Camera
func (d *Device) RequestFrame(ctx context.Context, requestID string) error {
	return d.sendJSON(ctx, &CaptureRequestMessage{
		BaseMessage: newBase(MessageTypeCaptureRequest),
		RequestID:   requestID,
	})
}

// Display implements vision.Camera
func (d *Device) Display(ctx context.Context, surface vision.Surface, visible bool) error {
	return d.sendJSON(ctx, &DisplayMessage{
		BaseMessage: newBase(MessageTypeDisplay),
		Surface:     surface,
		Visible:     visible,
	})
}

// Close implements vision.Camera
func (d *Device) Close() error {
	return d.release("camera")
}

// Speak implements engine.Speaker. It returns once the device reports the
// end of playback.
func (d *Device) Speak(ctx context.Context, text string, stream <-chan []byte) error {
	ack := d.expect(MessageTypePlaybackDone)
	defer d.forget(MessageTypePlaybackDone, ack)

	start := &SpeakingStartMessage{BaseMessage: newBase(MessageTypeSpeakingStart), Text: text}
	if stream != nil {
		start.ContentType = speechContentType
	}
	if err := d.sendJSON(ctx, start); err != nil {
		return err
	}

	chunks := 0
	if stream != nil {
		for chunk := range stream {
			if err := d.write(ctx, WriteData{Type: websocket.BinaryMessage, Payload: chunk}); err != nil {
				return err
			}
			chunks++
		}
	}

	if err := d.sendJSON(ctx, newBase(MessageTypeSpeakingEnd)); err != nil {
		return err
	}

	d.logger.Debug("Response sent", zap.Int("chunks", chunks), zap.Int("textLength", len(text)))

	_, err := d.await(ctx, playbackTimeout, ack)
	return err
}

// deliver hands an acknowledgement to the request waiting for it
func (d *Device) deliver(msg *InboundMessage) bool {
	d.mu.Lock()
	ch, ok := d.acks[msg.Type]
	if ok {
		delete(d.acks, msg.Type)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

func (d *Device) request(ctx context.Context, timeout time.Duration, out interface{}, ackType MessageType) (*InboundMessage, error) {
	ack := d.expect(ackType)
	defer d.forget(ackType, ack)

	if err := d.sendJSON(ctx, out); err != nil {
		return nil, err
	}
	return d.await(ctx, timeout, ack)
}

func (d *Device) expect(ackType MessageType) chan *InboundMessage {
	ch := make(chan *InboundMessage, 1)
	d.mu.Lock()
	d.acks[ackType] = ch
	d.mu.Unlock()
	return ch
}

func (d *Device) forget(ackType MessageType, ch chan *InboundMessage) {
	d.mu.Lock()
	if d.acks[ackType] == ch {
		delete(d.acks, ackType)
	}
	d.mu.Unlock()
}

func (d *Device) await(ctx context.Context, timeout time.Duration, ack chan *InboundMessage) (*InboundMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ack:
		return msg, nil
	case <-timer.C:
		return nil, fmt.Errorf("device did not acknowledge within %s", timeout)
	case <-d.done:
		return nil, errConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Device) release(resource string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	err := d.sendJSON(ctx, &ReleaseMessage{BaseMessage: newBase(MessageTypeRelease), Resource: resource})
	if errors.Is(err, errConnectionClosed) {
		return nil
	}
	return err
}

func (d *Device) sendJSON(ctx context.Context, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return d.write(ctx, WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (d *Device) write(ctx context.Context, data WriteData) error {
	select {
	case <-d.done:
		return errConnectionClosed
	default:
	}

	select {
	case d.send <- data:
		return nil
	case <-d.done:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
