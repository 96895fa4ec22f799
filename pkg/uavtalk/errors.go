package uavtalk

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData indicates the bytes end in the middle of a frame.
	ErrNeedMoreData = errors.New("need more data")
	// ErrCorrupt indicates bytes were discarded without producing a frame.
	ErrCorrupt = errors.New("corrupt frame")
	// ErrNoSync indicates a byte is skipped while looking for the sync marker.
	ErrNoSync = fmt.Errorf("%w: no sync", ErrCorrupt)
	// ErrBadType indicates an invalid message type byte.
	ErrBadType = fmt.Errorf("%w: bad message type", ErrCorrupt)
	// ErrBadLength indicates the frame length is out of range or doesn't
	// match the object definition.
	ErrBadLength = fmt.Errorf("%w: bad length", ErrCorrupt)
	// ErrChecksum indicates a checksum mismatch.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	// ErrUnknownObject indicates the object id is not in the dictionary.
	ErrUnknownObject = errors.New("unknown object")
	// ErrPayloadTooLarge indicates the payload exceeds MaxPayloadLength.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidInstance indicates the instance id can't be used for the operation.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrInvalidType indicates the message type can't be encoded.
	ErrInvalidType = errors.New("invalid message type")

	// ErrTimeout indicates no response from the peer in time.
	ErrTimeout = errors.New("transaction timeout")
	// ErrNack indicates the peer rejected the transaction.
	ErrNack = errors.New("rejected by peer")
	// ErrLinkLost indicates the transport failed.
	ErrLinkLost = errors.New("link lost")
	// ErrStopped indicates the engine was stopped.
	ErrStopped = errors.New("engine stopped")
	// ErrRunning indicates the engine is already running.
	ErrRunning = errors.New("engine already running")
)

// LinkError wraps the transport error which brings the link down.
type LinkError struct {
	Err error
}

// Error implements error.
func (e *LinkError) Error() string {
	return "link lost: " + e.Err.Error()
}

// Unwrap returns the transport error.
func (e *LinkError) Unwrap() error {
	return e.Err
}

// Is matches ErrLinkLost.
func (e *LinkError) Is(target error) bool {
	return target == ErrLinkLost
}
