package repositories

import (
	"context"

	"github.com/satriahrh/allergy-checker/domain/entities"
)

// DialogState is the resolver's view of the current dialog
type DialogState string

const (
	DialogStateElicitIntent        DialogState = "ElicitIntent"
	DialogStateConfirmIntent       DialogState = "ConfirmIntent"
	DialogStateElicitSlot          DialogState = "ElicitSlot"
	DialogStateFulfilled           DialogState = "Fulfilled"
	DialogStateReadyForFulfillment DialogState = "ReadyForFulfillment"
	DialogStateFailed              DialogState = "Failed"
)

// Intent names understood by the conversation engine
const (
	IntentAddPatient   = "AddPatient"
	IntentCheckPatient = "CheckPatient"
	IntentShoot        = "Shoot"
	IntentLogout       = "Logout"
)

// Slot names filled by the resolver
const (
	SlotPatientName = "PatientName"
	SlotAllergen    = "Allergen"
)

// IntentResult holds the only resolver fields the engine inspects
type IntentResult struct {
	DialogState     DialogState       `json:"dialog_state"`
	IntentName      string            `json:"intent_name"`
	Slots           map[string]string `json:"slots,omitempty"`
	Message         string            `json:"message"`
	InputTranscript string            `json:"input_transcript,omitempty"`
	// Audio is the spoken rendition of Message, when the resolver provides one
	Audio []byte `json:"-"`
}

// Finished reports whether the dialog is ready to be acted upon
func (r *IntentResult) Finished() bool {
	return r.DialogState == DialogStateReadyForFulfillment
}

// IntentResolver abstracts the remote intent resolution service
type IntentResolver interface {
	ResolveAudio(ctx context.Context, utterance entities.Utterance, userID string) (*IntentResult, error)
	ResolveText(ctx context.Context, text string, userID string) (*IntentResult, error)
}
