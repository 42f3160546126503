package peer

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrTransportFailure  = errors.New("transport failure")
	ErrPeerLeft          = errors.New("peer left the room")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomNotFound      = errors.New("room not found or expired")
	ErrAlreadyInRoom     = errors.New("already in a room")
	ErrSignalingClosed   = errors.New("signaling connection closed")
	ErrInvalidSignal     = errors.New("invalid signal payload")
)

// Error records the operation an endpoint was performing when it failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
