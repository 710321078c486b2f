// Package vision grabs single frames from a device camera and encodes them
// for the face and text services.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/satriahrh/allergy-checker/domain"
)

const (
	DefaultWidth  = 320
	DefaultHeight = 240
)

// Surface is one of the two things the device screen can show
type Surface string

const (
	SurfaceLive  Surface = "live"
	SurfaceFrame Surface = "frame"
)

var (
	ErrNotInitialized = errors.New("camera not initialized")
	ErrCaptureBusy    = errors.New("capture already in progress")
	ErrDestroyed      = errors.New("capturer destroyed")
)

// Camera is the device side of visual capture. RequestFrame asks for one
// fresh frame tagged with requestID; the frame comes back through
// Capturer.Deliver.
type Camera interface {
	Open(ctx context.Context, target string, width, height int) error
	RequestFrame(ctx context.Context, requestID string) error
	Display(ctx context.Context, surface Surface, visible bool) error
	Close() error
}

// Capturer owns the camera of one device
type Capturer struct {
	camera Camera
	logger *zap.Logger

	mu        sync.Mutex
	width     int
	height    int
	open      bool
	pendingID string
	pending   chan []byte
	destroyed bool
	released  bool
}

// NewCapturer creates a capturer for camera
func NewCapturer(camera Camera, logger *zap.Logger) *Capturer {
	return &Capturer{camera: camera, logger: logger}
}

// Init binds a live camera stream at width×height
func (c *Capturer) Init(ctx context.Context, target string, width, height int) error {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.mu.Unlock()

	if err := c.camera.Open(ctx, target, width, height); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
	c.open = true

	c.logger.Info("Camera initialized",
		zap.String("target", target),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

// Capture grabs exactly one frame taken after the call and returns it as PNG
func (c *Capturer) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	if !c.open {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	requestID := uuid.NewString()
	ch := make(chan []byte, 1)
	c.pendingID = requestID
	c.pending = ch
	width, height := c.width, c.height
	c.mu.Unlock()

	defer c.finishCapture()

	if err := c.camera.RequestFrame(ctx, requestID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	var frame []byte
	select {
	case frame = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	encoded, err := encodeFrame(frame, width, height)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Frame captured",
		zap.String("requestID", requestID),
		zap.Int("bytes", len(encoded)))
	return encoded, nil
}

// Deliver hands a frame from the device to the capture waiting for it.
// Frames for any other request are stale and dropped.
func (c *Capturer) Deliver(requestID string, frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || requestID != c.pendingID {
		c.logger.Debug("Dropping stale frame", zap.String("requestID", requestID))
		return false
	}
	c.pending <- frame
	c.pending = nil
	c.pendingID = ""
	return true
}

func (c *Capturer) finishCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	c.pendingID = ""
	if c.destroyed {
		c.releaseLocked()
	}
}

// Show makes surface visible on the device
func (c *Capturer) Show(ctx context.Context, surface Surface) error {
	return c.display(ctx, surface, true)
}

// Hide hides surface on the device
func (c *Capturer) Hide(ctx context.Context, surface Surface) error {
	return c.display(ctx, surface, false)
}

func (c *Capturer) display(ctx context.Context, surface Surface, visible bool) error {
	c.mu.Lock()
	open := c.open && !c.destroyed
	c.mu.Unlock()
	if !open {
		return ErrNotInitialized
	}
	return c.camera.Display(ctx, surface, visible)
}

// Destroy releases the camera. A capture in flight completes first.
func (c *Capturer) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.pending == nil {
		c.releaseLocked()
	}
}

func (c *Capturer) releaseLocked() {
	if c.released {
		return
	}
	c.released = true
	c.open = false
	if err := c.camera.Close(); err != nil {
		c.logger.Warn("Failed to release camera", zap.Error(err))
	}
}

// encodeFrame decodes a device frame, scales it to width×height when needed
// and re-encodes it as PNG
func encodeFrame(frame []byte, width, height int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	img := src
	if b := src.Bounds(); b.Dx() != width || b.Dy() != height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
