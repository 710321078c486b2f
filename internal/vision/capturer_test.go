package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/domain"
)

type fakeCamera struct {
	mu        sync.Mutex
	capturer  *Capturer
	openErr   error
	frame     []byte
	requests  int
	closes    int
	displayed map[Surface]bool
	onRequest func(requestID string)
}

func (f *fakeCamera) Open(ctx context.Context, target string, width, height int) error {
	return f.openErr
}

func (f *fakeCamera) RequestFrame(ctx context.Context, requestID string) error {
	f.mu.Lock()
	f.requests++
	hook := f.onRequest
	f.mu.Unlock()

	if hook != nil {
		hook(requestID)
		return nil
	}
	go f.capturer.Deliver(requestID, f.frame)
	return nil
}

func (f *fakeCamera) Display(ctx context.Context, surface Surface, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.displayed == nil {
		f.displayed = map[Surface]bool{}
	}
	f.displayed[surface] = visible
	return nil
}

func (f *fakeCamera) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCamera) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

func newTestCapturer(t *testing.T, cam *fakeCamera) *Capturer {
	t.Helper()
	c := NewCapturer(cam, zaptest.NewLogger(t))
	cam.capturer = c
	if err := c.Init(context.Background(), "camera", DefaultWidth, DefaultHeight); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return c
}

func TestCapturer_CaptureScalesToBoundSize(t *testing.T) {
	cam := &fakeCamera{frame: testFrame(t, 640, 480)}
	c := newTestCapturer(t, cam)

	out, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Capture did not return a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != DefaultWidth || b.Dy() != DefaultHeight {
		t.Errorf("Expected %dx%d frame, got %dx%d", DefaultWidth, DefaultHeight, b.Dx(), b.Dy())
	}
	if cam.requests != 1 {
		t.Errorf("Expected exactly one frame request, got %d", cam.requests)
	}
}

func TestCapturer_StaleFrameDropped(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestCapturer(t, cam)
	frame := testFrame(t, DefaultWidth, DefaultHeight)

	cam.onRequest = func(requestID string) {
		go func() {
			if c.Deliver("an-older-request", []byte("stale")) {
				t.Error("Expected stale frame to be dropped")
			}
			c.Deliver(requestID, frame)
		}()
	}

	out, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("Expected the fresh frame, got undecodable data: %v", err)
	}
}

func TestCapturer_DeliverWithoutCapture(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestCapturer(t, cam)
	if c.Deliver("whatever", []byte{1}) {
		t.Error("Expected delivery without a pending capture to be dropped")
	}
}

func TestCapturer_CaptureTimeout(t *testing.T) {
	cam := &fakeCamera{onRequest: func(string) {}}
	c := newTestCapturer(t, cam)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Capture(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	// the capturer is usable again
	cam.onRequest = nil
	cam.frame = testFrame(t, DefaultWidth, DefaultHeight)
	if _, err := c.Capture(context.Background()); err != nil {
		t.Errorf("Expected a later capture to succeed, got %v", err)
	}
}

func TestCapturer_InitFailure(t *testing.T) {
	cam := &fakeCamera{openErr: errors.New("permission denied")}
	c := NewCapturer(cam, zaptest.NewLogger(t))

	err := c.Init(context.Background(), "camera", 0, 0)
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestCapturer_DestroyDuringCaptureDefersRelease(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestCapturer(t, cam)
	frame := testFrame(t, DefaultWidth, DefaultHeight)

	cam.onRequest = func(requestID string) {
		c.Destroy()
		if got := cam.closeCount(); got != 0 {
			t.Errorf("Expected camera kept open during capture, closed %d times", got)
		}
		go c.Deliver(requestID, frame)
	}

	if _, err := c.Capture(context.Background()); err != nil {
		t.Fatalf("Expected in-flight capture to complete, got %v", err)
	}
	if got := cam.closeCount(); got != 1 {
		t.Errorf("Expected camera released once, got %d", got)
	}
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed, got %v", err)
	}
}

func TestCapturer_ShowHide(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestCapturer(t, cam)

	if err := c.Show(context.Background(), SurfaceFrame); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if err := c.Hide(context.Background(), SurfaceLive); err != nil {
		t.Fatalf("Hide failed: %v", err)
	}
	if !cam.displayed[SurfaceFrame] || cam.displayed[SurfaceLive] {
		t.Errorf("Unexpected display state: %v", cam.displayed)
	}
}
