package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/auth"
	"github.com/satriahrh/allergy-checker/internal/otp"
)

// Flow handles pictures taken while it is the active flow. Flows never touch
// the conversation state; they ask for transitions through the Outcome.
type Flow interface {
	Init(ctx context.Context, fc entities.FlowContext) error
	OnPictureTaken(ctx context.Context, image []byte) Outcome
}

// Transition asks the engine to switch the active flow
type Transition struct {
	Flow    entities.Flow
	Context entities.FlowContext
}

// Outcome is the result of handling one picture. When Err is set, Say is the
// context for the error message instead of the reply.
type Outcome struct {
	Say   string
	Err   error
	Next  *Transition
	Login *auth.Tokens
}

// sayFunc speaks an interim message while a flow is working
type sayFunc func(ctx context.Context, text string)

type addPatientFlow struct {
	enroller Enroller
	name     string
	allergen string
}

func (f *addPatientFlow) Init(ctx context.Context, fc entities.FlowContext) error {
	if strings.TrimSpace(fc.PatientName) == "" {
		return errors.New("patient name is required")
	}
	f.name = fc.PatientName
	f.allergen = fc.Allergen
	return nil
}

func (f *addPatientFlow) OnPictureTaken(ctx context.Context, image []byte) Outcome {
	patient, err := f.enroller.Enroll(ctx, f.name, f.allergen, image)
	if err != nil {
		return Outcome{Say: msgAddPatientFailed, Err: err}
	}
	return Outcome{Say: patientAdded(patient.Name)}
}

type checkPatientFlow struct {
	faces        repositories.FaceSearcher
	patients     repositories.PatientRepository
	collectionID string
	threshold    float64
	remote       func(context.Context) (context.Context, context.CancelFunc)
	say          sayFunc
}

func (f *checkPatientFlow) Init(ctx context.Context, fc entities.FlowContext) error {
	return nil
}

func (f *checkPatientFlow) OnPictureTaken(ctx context.Context, image []byte) Outcome {
	f.say(ctx, msgCheckingPatient)

	rctx, cancel := f.remote(ctx)
	match, err := f.faces.SearchFace(rctx, image, f.collectionID, f.threshold)
	cancel()
	if err != nil {
		return Outcome{Say: msgCheckPatientErr, Err: err}
	}
	if !match.Found() {
		return Outcome{Say: msgPatientNotFound}
	}

	rctx, cancel = f.remote(ctx)
	patient, err := f.patients.Get(rctx, match.ExternalID)
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		return Outcome{Say: msgPatientNotFound}
	}
	if err != nil {
		return Outcome{Say: msgGetPatientErr, Err: err}
	}

	return Outcome{Say: patientAllergy(patient.Name, patient.Allergen, patient.HasAllergy())}
}

type checkUserFlow struct {
	faces         repositories.FaceSearcher
	authenticator Authenticator
	collectionID  string
	threshold     float64
	remote        func(context.Context) (context.Context, context.CancelFunc)
	say           sayFunc
	logger        *zap.Logger
}

func (f *checkUserFlow) Init(ctx context.Context, fc entities.FlowContext) error {
	return nil
}

func (f *checkUserFlow) OnPictureTaken(ctx context.Context, image []byte) Outcome {
	f.say(ctx, msgCheckingFace)

	rctx, cancel := f.remote(ctx)
	match, err := f.faces.SearchFace(rctx, image, f.collectionID, f.threshold)
	cancel()
	if err != nil {
		return Outcome{Say: msgCheckUserErr, Err: err}
	}
	if !match.Found() {
		return Outcome{Say: msgFaceNotFound}
	}

	username := match.ExternalID
	f.say(ctx, loggingIn(username))

	rctx, cancel = f.remote(ctx)
	login, err := f.authenticator.Authenticate(rctx, username)
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		f.logger.Warn("Face matched an unknown user", zap.String("username", username))
		return Outcome{Say: msgFaceNotFound}
	}
	if err != nil {
		return Outcome{Say: msgLoginErr, Err: err}
	}

	return Outcome{
		Say: msgCodeSent,
		Next: &Transition{
			Flow:    entities.FlowCheckOtp,
			Context: entities.FlowContext{Username: login.Username, ChallengeSession: login.SessionID},
		},
	}
}

type checkOtpFlow struct {
	text          repositories.TextDetector
	authenticator Authenticator
	remote        func(context.Context) (context.Context, context.CancelFunc)
	say           sayFunc
	login         *auth.Login
}

func (f *checkOtpFlow) Init(ctx context.Context, fc entities.FlowContext) error {
	if fc.ChallengeSession == "" {
		return errors.New("no challenge session to answer")
	}
	f.login = &auth.Login{Username: fc.Username, SessionID: fc.ChallengeSession}
	return nil
}

func (f *checkOtpFlow) OnPictureTaken(ctx context.Context, image []byte) Outcome {
	f.say(ctx, msgDetectingCode)

	rctx, cancel := f.remote(ctx)
	lines, err := f.text.DetectLines(rctx, image)
	cancel()
	if err != nil {
		return Outcome{Say: msgDetectCodeErr, Err: err}
	}

	code, ok := otp.Extract(strings.Join(lines, "\n"))
	if !ok {
		return Outcome{Say: msgCodeNotDetected}
	}
	f.say(ctx, checkingCode(otp.Format(code)))

	rctx, cancel = f.remote(ctx)
	tokens, err := f.authenticator.RespondToChallenge(rctx, f.login, code)
	cancel()
	if errors.Is(err, domain.ErrChallengeFailed) {
		return Outcome{
			Say:  msgCodeRejected,
			Next: &Transition{Flow: entities.FlowCheckUser},
		}
	}
	if err != nil {
		return Outcome{Say: msgVerifyCodeErr, Err: err}
	}

	return Outcome{Say: msgLoggedIn, Login: tokens}
}
