// Package engine drives the conversation with one device: listen, resolve
// the intent, act on it and answer, one turn at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/audio"
	"github.com/satriahrh/allergy-checker/internal/auth"
	"github.com/satriahrh/allergy-checker/internal/metrics"
	"github.com/satriahrh/allergy-checker/internal/vision"
)

const (
	defaultFaceMatchThreshold = 80
	defaultRemoteTimeout      = 15 * time.Second
	defaultMaxDeviceFailures  = 3
)

// Listener records one utterance
type Listener interface {
	Record(ctx context.Context) (entities.Utterance, error)
}

// Camera takes pictures and switches the device screen
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Show(ctx context.Context, surface vision.Surface) error
	Hide(ctx context.Context, surface vision.Surface) error
}

// Speaker plays a response on the device and returns once playback is done.
// A nil audio channel shows the text without sound.
type Speaker interface {
	Speak(ctx context.Context, text string, audio <-chan []byte) error
}

// Authenticator logs a recognized clinician in
type Authenticator interface {
	Authenticate(ctx context.Context, username string) (*auth.Login, error)
	RespondToChallenge(ctx context.Context, login *auth.Login, code string) (*auth.Tokens, error)
}

// Enroller adds a patient with picture
type Enroller interface {
	Enroll(ctx context.Context, name, allergen string, image []byte) (*entities.Patient, error)
}

// Mode is the application the device is showing
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeClinic Mode = "clinic"
)

// TurnState is where the engine is inside a turn
type TurnState string

const (
	TurnIdle             TurnState = "idle"
	TurnRecording        TurnState = "recording"
	TurnAwaitingResolver TurnState = "awaiting_resolver"
	TurnAwaitingCapture  TurnState = "awaiting_capture"
	TurnSpeaking         TurnState = "speaking"
)

// Config holds engine settings
type Config struct {
	VoiceID             string
	UserCollectionID    string
	PatientCollectionID string
	FaceMatchThreshold  float64
	RemoteTimeout       time.Duration
	MaxDeviceFailures   int
}

// Services are the remote collaborators of the engine
type Services struct {
	Resolver      repositories.IntentResolver
	TTS           repositories.TextToSpeech
	Faces         repositories.FaceSearcher
	Text          repositories.TextDetector
	Patients      repositories.PatientRepository
	Enroller      Enroller
	Authenticator Authenticator
}

// Status is a snapshot of the engine for observers
type Status struct {
	Mode       Mode      `json:"mode"`
	Turn       TurnState `json:"turn"`
	ActiveFlow string    `json:"active_flow"`
	Username   string    `json:"username,omitempty"`
}

var errStopped = errors.New("conversation stopped")

// Engine owns the conversation state of one device. Run is the only
// goroutine that mutates it.
type Engine struct {
	cfg      Config
	svc      Services
	listener Listener
	camera   Camera
	speaker  Speaker
	logger   *zap.Logger

	flows          map[entities.Flow]Flow
	resolverUserID string
	deviceFailures int

	mu    sync.RWMutex
	state entities.ConversationState
	mode  Mode
	turn  TurnState
	user  *auth.Tokens
}

// New creates an engine for one device
func New(cfg Config, svc Services, listener Listener, camera Camera, speaker Speaker, logger *zap.Logger) (*Engine, error) {
	if svc.Resolver == nil || svc.TTS == nil || svc.Faces == nil || svc.Text == nil ||
		svc.Patients == nil || svc.Enroller == nil || svc.Authenticator == nil {
		return nil, errors.New("all engine services are required")
	}
	if listener == nil || camera == nil || speaker == nil {
		return nil, errors.New("listener, camera and speaker are required")
	}

	if cfg.FaceMatchThreshold <= 0 {
		cfg.FaceMatchThreshold = defaultFaceMatchThreshold
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}
	if cfg.MaxDeviceFailures <= 0 {
		cfg.MaxDeviceFailures = defaultMaxDeviceFailures
	}

	e := &Engine{
		cfg:            cfg,
		svc:            svc,
		listener:       listener,
		camera:         camera,
		speaker:        speaker,
		logger:         logger,
		resolverUserID: newResolverUserID(),
		mode:           ModeLogin,
		turn:           TurnIdle,
	}

	e.flows = map[entities.Flow]Flow{
		entities.FlowAddPatient: &addPatientFlow{enroller: svc.Enroller},
		entities.FlowCheckPatient: &checkPatientFlow{
			faces:        svc.Faces,
			patients:     svc.Patients,
			collectionID: cfg.PatientCollectionID,
			threshold:    cfg.FaceMatchThreshold,
			remote:       e.remoteContext,
			say:          e.say,
		},
		entities.FlowCheckUser: &checkUserFlow{
			faces:         svc.Faces,
			authenticator: svc.Authenticator,
			collectionID:  cfg.UserCollectionID,
			threshold:     cfg.FaceMatchThreshold,
			remote:        e.remoteContext,
			say:           e.say,
			logger:        logger,
		},
		entities.FlowCheckOtp: &checkOtpFlow{
			text:          svc.Text,
			authenticator: svc.Authenticator,
			remote:        e.remoteContext,
			say:           e.say,
		},
	}

	return e, nil
}

// Run greets the user and runs turns until ctx is done or the device goes
// away
func (e *Engine) Run(ctx context.Context) error {
	metrics.ActiveDevices.Inc()
	defer metrics.ActiveDevices.Dec()
	defer e.setTurn(TurnIdle)

	e.startLogin(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runTurn(ctx); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}
	}
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{Mode: e.mode, Turn: e.turn, ActiveFlow: e.state.ActiveFlow.String()}
	if e.user != nil {
		s.Username = e.user.Username
	}
	return s
}

// runTurn is one listen → resolve → act → respond cycle. It returns an
// error only when the conversation cannot continue.
func (e *Engine) runTurn(ctx context.Context) error {
	e.setTurn(TurnRecording)
	utterance, err := e.listener.Record(ctx)
	if err != nil {
		return e.handleRecordError(ctx, err)
	}
	e.deviceFailures = 0

	started := time.Now()
	defer func() {
		metrics.TurnLatency.Observe(time.Since(started).Seconds())
		e.setTurn(TurnIdle)
	}()

	e.setTurn(TurnAwaitingResolver)
	rctx, cancel := e.remoteContext(ctx)
	result, err := e.svc.Resolver.ResolveAudio(rctx, utterance, e.resolverUserID)
	cancel()
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("unknown", "resolver_error").Inc()
		e.reportError(ctx, msgResolverFailed, err)
		return nil
	}

	e.logger.Info("Intent resolved",
		zap.String("dialogState", string(result.DialogState)),
		zap.String("intent", result.IntentName),
		zap.String("transcript", result.InputTranscript))

	if !result.Finished() {
		metrics.TurnsTotal.WithLabelValues(result.IntentName, "prompt").Inc()
		e.speakResult(ctx, result)
		return nil
	}

	outcome := e.dispatch(ctx, result)
	metrics.TurnsTotal.WithLabelValues(result.IntentName, outcome).Inc()
	return nil
}

func (e *Engine) handleRecordError(ctx context.Context, err error) error {
	e.setTurn(TurnIdle)
	switch {
	case errors.Is(err, audio.ErrSilence):
		metrics.SilentRecordingsTotal.Inc()
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, audio.ErrDestroyed):
		return errStopped
	case errors.Is(err, domain.ErrDeviceUnavailable):
		e.deviceFailures++
		e.logger.Warn("Microphone unavailable",
			zap.Int("failures", e.deviceFailures),
			zap.Error(err))
		if e.deviceFailures >= e.cfg.MaxDeviceFailures {
			return fmt.Errorf("microphone unavailable: %w", err)
		}
		e.say(ctx, msgMicUnavailable+e.retrySuffix())
		return nil
	default:
		e.logger.Error("Failed to process recording", zap.Error(err))
		e.say(ctx, msgAudioFailed+e.retrySuffix())
		return nil
	}
}

// dispatch acts on a fulfilled intent and returns the outcome label for
// metrics
func (e *Engine) dispatch(ctx context.Context, result *repositories.IntentResult) string {
	mode := e.currentMode()

	if result.IntentName == repositories.IntentShoot {
		return e.shoot(ctx)
	}

	if mode == ModeLogin {
		e.say(ctx, msgShootToLogin)
		return "ignored"
	}

	switch result.IntentName {
	case repositories.IntentCheckPatient:
		if err := e.switchFlow(ctx, entities.FlowCheckPatient, entities.FlowContext{}); err != nil {
			e.reportError(ctx, msgCheckPatientErr, err)
			return "error"
		}
		e.say(ctx, msgTakePicture)
		e.showLive(ctx)
		return "flow_switched"

	case repositories.IntentAddPatient:
		fc := entities.FlowContext{
			PatientName: result.Slots[repositories.SlotPatientName],
			Allergen:    result.Slots[repositories.SlotAllergen],
		}
		if err := e.switchFlow(ctx, entities.FlowAddPatient, fc); err != nil {
			e.reportError(ctx, msgAddPatientFailed, err)
			return "error"
		}
		e.say(ctx, msgTakePicture)
		e.showLive(ctx)
		return "flow_switched"

	case repositories.IntentLogout:
		e.say(ctx, msgGoodbye)
		e.logout(ctx)
		return "logout"

	default:
		if result.Message != "" {
			e.speakResult(ctx, result)
		} else {
			e.say(ctx, msgNotUnderstood+suffixClinic)
		}
		return "unhandled"
	}
}

// shoot captures one picture and hands it to the active flow only
func (e *Engine) shoot(ctx context.Context) string {
	active := e.activeFlow()
	flow, ok := e.flows[active]
	if !ok {
		if e.currentMode() == ModeLogin {
			e.say(ctx, msgShootToLogin)
		} else {
			e.say(ctx, msgChooseFlow)
		}
		return "no_flow"
	}

	e.setTurn(TurnAwaitingCapture)
	cctx, cancel := e.remoteContext(ctx)
	image, err := e.camera.Capture(cctx)
	cancel()
	if err != nil {
		e.reportError(ctx, msgCameraFailed, err)
		return "capture_error"
	}
	e.showFrame(ctx)

	e.logger.Info("Picture taken", zap.String("flow", active.String()), zap.Int("bytes", len(image)))
	outcome := flow.OnPictureTaken(ctx, image)
	return e.apply(ctx, outcome)
}

// apply speaks the outcome of a flow and performs the transitions it asks for
func (e *Engine) apply(ctx context.Context, outcome Outcome) string {
	defer e.showLive(ctx)

	if outcome.Err != nil {
		e.reportError(ctx, outcome.Say, outcome.Err)
		return "error"
	}

	e.say(ctx, outcome.Say)

	if outcome.Login != nil {
		e.login(ctx, outcome.Login)
		return "logged_in"
	}
	if outcome.Next != nil {
		if err := e.switchFlow(ctx, outcome.Next.Flow, outcome.Next.Context); err != nil {
			e.reportError(ctx, msgLoginErr, err)
			e.startLogin(ctx)
			return "error"
		}
		return "flow_switched"
	}
	return "ok"
}

// switchFlow is the only place the active flow changes
func (e *Engine) switchFlow(ctx context.Context, flow entities.Flow, fc entities.FlowContext) error {
	if handler, ok := e.flows[flow]; ok {
		if err := handler.Init(ctx, fc); err != nil {
			return err
		}
	}

	e.mu.Lock()
	prev := e.state.SwitchTo(flow, fc)
	e.mu.Unlock()

	e.logger.Info("Flow switched",
		zap.String("from", prev.String()),
		zap.String("to", flow.String()))
	return nil
}

func (e *Engine) startLogin(ctx context.Context) {
	e.mu.Lock()
	e.mode = ModeLogin
	e.user = nil
	e.mu.Unlock()

	if err := e.switchFlow(ctx, entities.FlowCheckUser, entities.FlowContext{}); err != nil {
		e.logger.Error("Failed to enter login flow", zap.Error(err))
	}
	e.showLive(ctx)
	e.say(ctx, msgLoginWelcome)
}

func (e *Engine) login(ctx context.Context, tokens *auth.Tokens) {
	e.mu.Lock()
	e.mode = ModeClinic
	e.user = tokens
	e.mu.Unlock()

	if err := e.switchFlow(ctx, entities.FlowNone, entities.FlowContext{}); err != nil {
		e.logger.Error("Failed to reset flow", zap.Error(err))
	}

	name := tokens.Name
	if name == "" {
		name = tokens.Username
	}
	e.say(ctx, clinicWelcome(name))
}

func (e *Engine) logout(ctx context.Context) {
	if err := e.switchFlow(ctx, entities.FlowNone, entities.FlowContext{}); err != nil {
		e.logger.Error("Failed to reset flow", zap.Error(err))
	}

	e.resolverUserID = newResolverUserID()
	e.startLogin(ctx)
}

// reportError speaks a failure and keeps the conversation going. NotFound
// outcomes never reach here; flows turn them into replies.
func (e *Engine) reportError(ctx context.Context, message string, err error) {
	fields := []zap.Field{zap.Error(err), zap.String("message", message)}
	var remote *domain.RemoteServiceError
	if errors.As(err, &remote) {
		fields = append(fields, zap.String("service", remote.Service))
	}
	e.logger.Error("Turn failed", fields...)

	if errors.Is(err, domain.ErrDeviceUnavailable) {
		message = msgCameraFailed
	}
	if message == "" {
		message = msgNotUnderstood
	}
	e.say(ctx, message+e.retrySuffix())
}

func (e *Engine) retrySuffix() string {
	if e.currentMode() == ModeClinic {
		return suffixClinic
	}
	return suffixLogin
}

// say synthesizes text and plays it. Playback problems are logged and the
// conversation moves on.
func (e *Engine) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	prev := e.setTurn(TurnSpeaking)
	defer e.setTurn(prev)

	rctx, cancel := e.remoteContext(ctx)
	defer cancel()

	stream, err := e.svc.TTS.ConvertTextToSpeech(rctx, text, e.cfg.VoiceID)
	if err != nil {
		e.logger.Warn("Speech synthesis failed, showing text only", zap.Error(err))
		stream = nil
	}
	if err := e.speaker.Speak(ctx, text, stream); err != nil {
		e.logger.Warn("Failed to play response", zap.Error(err))
	}
}

// speakResult plays the resolver's own prompt audio when it sent one
func (e *Engine) speakResult(ctx context.Context, result *repositories.IntentResult) {
	if len(result.Audio) == 0 {
		e.say(ctx, result.Message)
		return
	}

	prev := e.setTurn(TurnSpeaking)
	defer e.setTurn(prev)

	stream := make(chan []byte, 1)
	stream <- result.Audio
	close(stream)
	if err := e.speaker.Speak(ctx, result.Message, stream); err != nil {
		e.logger.Warn("Failed to play response", zap.Error(err))
	}
}

func (e *Engine) showLive(ctx context.Context) {
	if err := e.camera.Hide(ctx, vision.SurfaceFrame); err != nil {
		e.logger.Debug("Failed to hide frame", zap.Error(err))
	}
	if err := e.camera.Show(ctx, vision.SurfaceLive); err != nil {
		e.logger.Debug("Failed to show live view", zap.Error(err))
	}
}

func (e *Engine) showFrame(ctx context.Context) {
	if err := e.camera.Hide(ctx, vision.SurfaceLive); err != nil {
		e.logger.Debug("Failed to hide live view", zap.Error(err))
	}
	if err := e.camera.Show(ctx, vision.SurfaceFrame); err != nil {
		e.logger.Debug("Failed to show frame", zap.Error(err))
	}
}

func (e *Engine) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.RemoteTimeout)
}

func (e *Engine) setTurn(t TurnState) TurnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.turn
	e.turn = t
	e.state.TurnInProgress = t != TurnIdle
	return prev
}

func (e *Engine) currentMode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *Engine) activeFlow() entities.Flow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ActiveFlow
}

func newResolverUserID() string {
	return "user-" + uuid.NewString()
}
