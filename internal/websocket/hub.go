package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/internal/audio"
	"github.com/satriahrh/allergy-checker/internal/engine"
	"github.com/satriahrh/allergy-checker/internal/vision"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 2 * 1024 * 1024 // camera frames arrive base64 encoded

	cameraTarget = "camera"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Devices authenticate with a bearer token, not cookies
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SessionConfig is what every device conversation is built from
type SessionConfig struct {
	Audio    audio.Config
	Engine   engine.Config
	Services engine.Services
	Width    int
	Height   int
}

// Hub maintains the set of connected devices, one conversation per device.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	cfg    SessionConfig
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(cfg SessionConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.deviceID]
			h.clients[client.deviceID] = client
			h.mu.Unlock()
			if previous != nil {
				h.logger.Info("Replacing existing connection", zap.String("deviceID", client.deviceID))
				previous.close()
			}
			h.logger.Info("Client registered", zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.deviceID]; ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()
			client.close()
			h.logger.Info("Client unregistered", zap.String("deviceID", client.deviceID))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Status returns the conversation status of a connected device
func (h *Hub) Status(deviceID string) (engine.Status, bool) {
	h.mu.RLock()
	client, ok := h.clients[deviceID]
	h.mu.RUnlock()
	if !ok {
		return engine.Status{}, false
	}
	return client.engine.Status(), true
}

// ConnectedDevices returns the IDs of all connected devices
func (h *Hub) ConnectedDevices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the
// conversation of one device.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the client is gone
	done      chan struct{}
	closeOnce sync.Once

	// Device ID for this client
	deviceID string

	logger *zap.Logger

	device   *Device
	recorder *audio.Recorder
	capturer *vision.Capturer
	engine   *engine.Engine
}

// HandleWebSocket upgrades the request of an authenticated device and starts
// its conversation
func HandleWebSocket(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	logger = logger.With(zap.String("deviceID", deviceID))

	client, err := newClient(hub, deviceID, logger)
	if err != nil {
		logger.Error("Failed to create conversation", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}
	client.conn = conn

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.converse()

	return nil
}

func newClient(hub *Hub, deviceID string, logger *zap.Logger) (*Client, error) {
	client := &Client{
		hub:      hub,
		send:     make(chan WriteData, 256),
		done:     make(chan struct{}),
		deviceID: deviceID,
		logger:   logger,
	}

	client.device = newDevice(client.send, client.done, hub.cfg.Audio.SampleRate, logger)

	recorder, err := audio.NewRecorder(hub.cfg.Audio, client.device, logger)
	if err != nil {
		return nil, err
	}
	client.recorder = recorder
	client.capturer = vision.NewCapturer(client.device, logger)

	eng, err := engine.New(hub.cfg.Engine, hub.cfg.Services, recorder, client.capturer, client.device, logger)
	if err != nil {
		return nil, err
	}
	client.engine = eng
	return client, nil
}

// converse runs the conversation until the device disconnects
func (c *Client) converse() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.recorder.Destroy()
		c.capturer.Destroy()
	}()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.capturer.Init(ctx, cameraTarget, c.hub.cfg.Width, c.hub.cfg.Height); err != nil {
		c.logger.Error("Failed to open camera", zap.Error(err))
		c.sendError("camera_unavailable", "camera could not be opened")
		c.close()
		return
	}

	err := c.engine.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		c.logger.Info("Conversation ended")
	default:
		c.logger.Error("Conversation failed", zap.Error(err))
		c.sendError("conversation_failed", err.Error())
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump pumps messages from the websocket connection to the conversation.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the conversation to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// processMessage routes a control message from the device
func (c *Client) processMessage(message []byte) {
	msg, err := ParseMessage(message)
	if err != nil {
		c.logger.Error("Failed to parse message", zap.Error(err))
		c.sendError("invalid_message", err.Error())
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.sendJSON(newBase(MessageTypePong))

	case MessageTypeListeningEnd:
		c.recorder.Stop()

	case MessageTypeFrame:
		frame, err := msg.Frame()
		if err != nil {
			c.logger.Error("Failed to decode frame", zap.Error(err))
			return
		}
		if !c.capturer.Deliver(msg.RequestID, frame) {
			c.logger.Debug("Dropped stale frame", zap.String("requestID", msg.RequestID))
		}

	default:
		if !c.device.deliver(msg) {
			c.logger.Debug("Unexpected acknowledgement", zap.String("type", string(msg.Type)))
		}
	}
}

// processBinaryAudioChunk buffers microphone audio for the running recording
func (c *Client) processBinaryAudioChunk(data []byte) {
	if !c.recorder.Append(data) {
		c.logger.Debug("Dropped audio chunk outside a recording", zap.Int("size", len(data)))
	}
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(CreateErrorMessage(code, message))
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.Int("size", len(payload)))
	}
}
