package auth

import (
	"crypto/subtle"
	"errors"
	"sync"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// DeviceRegistry holds the secret of every device allowed to connect,
// keyed by serial number
type DeviceRegistry struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewDeviceRegistry creates a registry from serial number → secret pairs
func NewDeviceRegistry(secrets map[string]string) *DeviceRegistry {
	r := &DeviceRegistry{secrets: make(map[string]string, len(secrets))}
	for serial, secret := range secrets {
		r.secrets[serial] = secret
	}
	return r
}

// ValidateDevice validates device credentials (serial number + secret)
func (r *DeviceRegistry) ValidateDevice(serialNumber, secret string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, exists := r.secrets[serialNumber]
	if !exists || secret == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// Register sets the secret for a device's serial number
func (r *DeviceRegistry) Register(serialNumber, secret string) error {
	if serialNumber == "" {
		return errors.New("serial number cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.secrets[serialNumber] = secret
	return nil
}
