package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleDictionary indicates the peer uses a different object dictionary.
	ErrIncompatibleDictionary = errors.New("incompatible object dictionary")
	// ErrNotConnected indicates the session is not established.
	ErrNotConnected = errors.New("not connected")
)

// IncompatibleDictionaryError reports the dictionary fingerprints of both sides.
type IncompatibleDictionaryError struct {
	LocalHash     uint32
	RemoteHash    uint32
	LocalObjects  int
	RemoteObjects int
}

// Error implements error.
func (e *IncompatibleDictionaryError) Error() string {
	return fmt.Sprintf("%v: local %08x (%d objects), remote %08x (%d objects)",
		ErrIncompatibleDictionary, e.LocalHash, e.LocalObjects, e.RemoteHash, e.RemoteObjects)
}

// Is matches ErrIncompatibleDictionary.
func (e *IncompatibleDictionaryError) Is(target error) bool {
	return target == ErrIncompatibleDictionary
}

// ConnectError indicates a handshake step failed.
type ConnectError struct {
	Step string
	Err  error
}

// Error implements error.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect: %s: %v", e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *ConnectError) Unwrap() error {
	return e.Err
}
