// Command kiosk-sim plays the part of a kiosk against a running server. It
// answers microphone requests with recorded wav files, camera captures with a
// picture file and saves the spoken responses it receives.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/internal/api"
	"github.com/satriahrh/allergy-checker/internal/audio"
	ws "github.com/satriahrh/allergy-checker/internal/websocket"
)

const chunkSize = 4096

type options struct {
	server    string
	serial    string
	secret    string
	utterance []string
	picture   string
	outDir    string
}

func main() {
	var opts options
	var utterances string
	flag.StringVar(&opts.server, "server", "localhost:8080", "server host:port")
	flag.StringVar(&opts.serial, "serial", "kiosk-1", "device serial number")
	flag.StringVar(&opts.secret, "secret", "", "device secret key")
	flag.StringVar(&utterances, "say", "", "comma separated wav files, one per listening turn")
	flag.StringVar(&opts.picture, "picture", "", "jpeg or png answered to every capture request")
	flag.StringVar(&opts.outDir, "out", "audio_responses", "directory for received speech")
	flag.Parse()
	if utterances != "" {
		opts.utterance = strings.Split(utterances, ",")
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("Simulator stopped", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	token, err := authenticateDevice(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to authenticate device: %w", err)
	}
	logger.Info("Device authenticated", zap.String("deviceID", opts.serial))

	u := url.URL{Scheme: "ws", Host: opts.server, Path: "/ws"}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	k := &kiosk{conn: conn, opts: opts, logger: logger}
	done := make(chan error, 1)
	go func() { done <- k.readLoop() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("Interrupted, closing connection")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
}

func authenticateDevice(ctx context.Context, opts options) (string, error) {
	body, err := json.Marshal(api.DeviceAuthRequest{SerialNumber: opts.serial, SecretKey: opts.secret})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+opts.server+"/api/v1/device/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed: %s", string(raw))
	}

	var authResp api.DeviceAuthResponse
	if err := json.Unmarshal(raw, &authResp); err != nil {
		return "", err
	}
	return authResp.Token, nil
}

// kiosk answers server requests the way the device firmware does
type kiosk struct {
	conn   *websocket.Conn
	opts   options
	logger *zap.Logger

	turn     int
	speech   *os.File
	received int
}

type serverMessage struct {
	Type      ws.MessageType `json:"type"`
	RequestID string         `json:"request_id"`
	Text      string         `json:"text"`
	Resource  string         `json:"resource"`
	Surface   string         `json:"surface"`
	Visible   bool           `json:"visible"`
	Code      string         `json:"error_code"`
	Message   string         `json:"message"`
}

func (k *kiosk) readLoop() error {
	for {
		messageType, message, err := k.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			k.received++
			if k.speech != nil {
				if _, err := k.speech.Write(message); err != nil {
					k.logger.Warn("Failed to save speech chunk", zap.Error(err))
				}
			}
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			k.logger.Warn("Invalid server message", zap.Error(err))
			continue
		}
		if err := k.handle(msg); err != nil {
			return err
		}
	}
}

func (k *kiosk) handle(msg serverMessage) error {
	switch msg.Type {
	case ws.MessageTypeListeningStart:
		return k.listen()
	case ws.MessageTypeListeningEnd:
		return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypeListeningStopped)})
	case ws.MessageTypeCameraOpen:
		if k.opts.picture == "" {
			return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypeCameraReady), Error: "no camera"})
		}
		return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypeCameraReady)})
	case ws.MessageTypeCaptureRequest:
		return k.capture(msg.RequestID)
	case ws.MessageTypeSpeakingStart:
		k.logger.Info("Server says", zap.String("text", msg.Text))
		return k.openSpeechFile()
	case ws.MessageTypeSpeakingEnd:
		k.closeSpeechFile()
		return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypePlaybackDone)})
	case ws.MessageTypeDisplay:
		k.logger.Info("Display", zap.String("surface", msg.Surface), zap.Bool("visible", msg.Visible))
	case ws.MessageTypeRelease:
		k.logger.Info("Released", zap.String("resource", msg.Resource))
	case ws.MessageTypeError:
		k.logger.Warn("Server error", zap.String("code", msg.Code), zap.String("message", msg.Message))
	default:
		k.logger.Debug("Unhandled message", zap.String("type", string(msg.Type)))
	}
	return nil
}

// listen answers one listening turn with the next wav file. Once the files
// run out the microphone is refused, which ends the conversation.
func (k *kiosk) listen() error {
	if k.turn >= len(k.opts.utterance) {
		k.logger.Info("No more utterances, refusing microphone")
		return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypeListeningStarted), Error: "microphone closed"})
	}
	path := k.opts.utterance[k.turn]
	k.turn++

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read utterance: %w", err)
	}

	if err := k.send(ws.InboundMessage{
		BaseMessage: base(ws.MessageTypeListeningStarted),
		Format:      &audio.Format{Encoding: audio.EncodingWAV},
	}); err != nil {
		return err
	}

	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		if err := k.conn.WriteMessage(websocket.BinaryMessage, data[start:end]); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
	}
	k.logger.Info("Utterance sent", zap.String("file", path), zap.Int("bytes", len(data)))

	// The user stopped talking
	return k.send(ws.InboundMessage{BaseMessage: base(ws.MessageTypeListeningEnd)})
}

func (k *kiosk) capture(requestID string) error {
	data, err := os.ReadFile(k.opts.picture)
	if err != nil {
		return fmt.Errorf("failed to read picture: %w", err)
	}
	return k.send(ws.InboundMessage{
		BaseMessage: base(ws.MessageTypeFrame),
		RequestID:   requestID,
		Data:        base64.StdEncoding.EncodeToString(data),
	})
}

func (k *kiosk) openSpeechFile() error {
	k.closeSpeechFile()
	if err := os.MkdirAll(k.opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create speech directory: %w", err)
	}
	name := filepath.Join(k.opts.outDir, fmt.Sprintf("%d.mp3", time.Now().UnixNano()))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create speech file: %w", err)
	}
	k.speech = f
	k.received = 0
	return nil
}

func (k *kiosk) closeSpeechFile() {
	if k.speech == nil {
		return
	}
	k.logger.Info("Speech saved", zap.String("file", k.speech.Name()), zap.Int("chunks", k.received))
	k.speech.Close()
	k.speech = nil
}

func (k *kiosk) send(msg ws.InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return k.conn.WriteMessage(websocket.TextMessage, data)
}

func base(t ws.MessageType) ws.BaseMessage {
	return ws.BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}
