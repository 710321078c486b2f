package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/auth"
	"github.com/satriahrh/allergy-checker/internal/websocket"
)

const claimsKey = "claims"

// ChallengeHooks answers the three custom-challenge hook events
type ChallengeHooks interface {
	Define(ctx context.Context, event json.RawMessage) (json.RawMessage, error)
	Create(ctx context.Context, event json.RawMessage) (json.RawMessage, error)
	Verify(ctx context.Context, event json.RawMessage) (json.RawMessage, error)
}

// ImageReader serves stored pictures by key
type ImageReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Dependencies are the services the HTTP surface exposes
type Dependencies struct {
	Hub      *websocket.Hub
	Devices  *auth.DeviceRegistry
	Issuer   *auth.TokenIssuer
	Hooks    ChallengeHooks
	Resolver repositories.IntentResolver
	// HookSecret guards the challenge hook routes. Empty disables the routes.
	HookSecret string
	// Images serves pictures from a local image store. Nil when pictures
	// live in a bucket with its own URLs.
	Images ImageReader
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "allergy-checker",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Device APIs
	v1.POST("/device/auth", h.deviceAuth)

	devices := v1.Group("/devices", h.requireToken)
	devices.GET("", h.listDevices)
	devices.GET("/:id/status", h.deviceStatus)
	devices.POST("/:id/text", h.textIntent)

	// Custom challenge hooks
	if deps.HookSecret != "" {
		hooks := v1.Group("/auth/challenge", h.requireHookSecret)
		hooks.POST("/define", h.hook(deps.Hooks.Define))
		hooks.POST("/create", h.hook(deps.Hooks.Create))
		hooks.POST("/verify", h.hook(deps.Hooks.Verify))
	} else {
		logger.Warn("Challenge hook routes disabled, no hook secret configured")
	}

	if deps.Images != nil {
		e.GET("/images/:key", h.image)
	}

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.websocketWithAuth)
}

func (h *handlers) deviceAuth(c echo.Context) error {
	var req DeviceAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	if err := h.deps.Devices.ValidateDevice(req.SerialNumber, req.SecretKey); err != nil {
		h.logger.Warn("Device authentication failed",
			zap.String("serialNumber", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, expiresAt, err := h.deps.Issuer.GenerateDeviceToken(req.SerialNumber)
	if err != nil {
		h.logger.Error("Failed to generate device token",
			zap.String("deviceID", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Device authenticated successfully", zap.String("deviceID", req.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  req.SerialNumber,
	})
}

func (h *handlers) listDevices(c echo.Context) error {
	devices := h.deps.Hub.ConnectedDevices()
	sort.Strings(devices)
	return c.JSON(http.StatusOK, DevicesResponse{Devices: devices})
}

func (h *handlers) deviceStatus(c echo.Context) error {
	deviceID := c.Param("id")
	status, ok := h.deps.Hub.Status(deviceID)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "device_not_connected",
			Message: "Device is not connected",
		})
	}
	return c.JSON(http.StatusOK, DeviceStatusResponse{DeviceID: deviceID, Status: status})
}

// textIntent resolves a typed utterance the way the device's speech would be
func (h *handlers) textIntent(c echo.Context) error {
	var req TextIntentRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Text is required",
		})
	}

	deviceID := c.Param("id")
	result, err := h.deps.Resolver.ResolveText(c.Request().Context(), req.Text, "text-"+deviceID)
	if err != nil {
		h.logger.Error("Failed to resolve text intent",
			zap.String("deviceID", deviceID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "resolver_failed",
			Message: "Intent resolver is unavailable",
		})
	}

	return c.JSON(http.StatusOK, TextIntentResponse{DeviceID: deviceID, Result: result})
}

func (h *handlers) image(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil || key == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Image key is required",
		})
	}

	data, contentType, err := h.deps.Images.Get(c.Request().Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "image_not_found",
			Message: "Image does not exist",
		})
	}
	if err != nil {
		h.logger.Error("Failed to read image", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "image_read_failed",
			Message: "Failed to read image",
		})
	}

	return c.Blob(http.StatusOK, contentType, data)
}

// hook adapts one challenge hook to an HTTP handler taking the raw event
func (h *handlers) hook(fn func(context.Context, json.RawMessage) (json.RawMessage, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64*1024))
		if err != nil || len(body) == 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Event body is required",
			})
		}

		resp, err := fn(c.Request().Context(), body)
		if err != nil {
			h.logger.Error("Challenge hook failed",
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "hook_failed",
				Message: err.Error(),
			})
		}

		return c.JSONBlob(http.StatusOK, resp)
	}
}

func (h *handlers) requireHookSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.HookSecret)) != 1 {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_hook_secret",
				Message: "Hook secret is required in Authorization header",
			})
		}
		return next(c)
	}
}

func (h *handlers) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := h.validate(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func (h *handlers) websocketWithAuth(c echo.Context) error {
	claims, err := h.validate(c)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	// Verify this is a device token
	if claims.Role != auth.RoleDevice {
		h.logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only device tokens are allowed for WebSocket connections",
		})
	}

	if claims.DeviceID == "" {
		h.logger.Error("WebSocket connection rejected: missing device ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Device ID not found in token",
		})
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("deviceID", claims.DeviceID))

	return websocket.HandleWebSocket(h.deps.Hub, c, claims.DeviceID, h.logger)
}

var errMissingToken = errors.New("missing bearer token")

func (h *handlers) validate(c echo.Context) (*auth.JWTClaims, error) {
	token := bearerToken(c)
	if token == "" {
		return nil, errMissingToken
	}
	return h.deps.Issuer.ValidateToken(token)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
