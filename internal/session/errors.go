package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyPaired = errors.New("session already paired")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrPoolClosed    = errors.New("session pool closed")
)

// PairingError is returned when a linking code could not be issued.
// It is never retried automatically.
type PairingError struct {
	Tenant string
	Err    error
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("pairing %s: %v", e.Tenant, e.Err)
}

func (e *PairingError) Unwrap() error { return e.Err }
