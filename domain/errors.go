package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when the microphone or camera cannot be
	// acquired (no permission, no hardware, device disconnected).
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNotFound marks a normal "nothing matched" outcome: no face match,
	// no OTP code in the picture, no stored record.
	ErrNotFound = errors.New("not found")

	// ErrChallengeFailed denies the login attempt. No further challenge
	// rounds are issued for the session.
	ErrChallengeFailed = errors.New("challenge failed")
)

// RemoteServiceError wraps a failure of any remote collaborator
// (resolver, face search, text detection, speech, delivery, storage).
type RemoteServiceError struct {
	Service string
	Err     error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// NewRemoteServiceError returns nil when err is nil.
func NewRemoteServiceError(service string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteServiceError{Service: service, Err: err}
}

// IsRemoteServiceError reports whether err wraps a RemoteServiceError.
func IsRemoteServiceError(err error) bool {
	var rse *RemoteServiceError
	return errors.As(err, &rse)
}
