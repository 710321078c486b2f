package entities

import "fmt"

// Flow is a named conversational mode with its own capture handling
type Flow int

const (
	FlowNone Flow = iota
	FlowAddPatient
	FlowCheckPatient
	FlowCheckUser
	FlowCheckOtp
)

func (f Flow) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowAddPatient:
		return "add_patient"
	case FlowCheckPatient:
		return "check_patient"
	case FlowCheckUser:
		return "check_user"
	case FlowCheckOtp:
		return "check_otp"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// FlowContext is the flow-specific mutable record. Only the fields relevant
// to the active flow are populated.
type FlowContext struct {
	// add-patient
	PatientName string
	Allergen    string

	// check-user / check-otp
	Username         string
	ChallengeSession string
}

// ConversationState is owned by exactly one conversation engine
type ConversationState struct {
	ActiveFlow Flow
	Context    FlowContext
	// TurnInProgress is set from the start of listening until the turn's
	// response has been given
	TurnInProgress bool
}

// SwitchTo replaces the active flow and its context. It returns the flow that
// was active before the switch.
func (s *ConversationState) SwitchTo(flow Flow, ctx FlowContext) Flow {
	prev := s.ActiveFlow
	s.ActiveFlow = flow
	s.Context = ctx
	return prev
}
