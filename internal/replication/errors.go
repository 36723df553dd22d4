package replication

import "errors"

// Replication errors.
var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("replication: session closed")

	// ErrMalformed is returned when a frame or payload cannot be decoded.
	ErrMalformed = errors.New("replication: malformed message")

	// ErrUnknownMessage is returned for a frame with an unknown type.
	ErrUnknownMessage = errors.New("replication: unknown message type")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("replication: frame too large")

	// ErrFieldTooLong is returned when a string field does not fit its
	// length prefix.
	ErrFieldTooLong = errors.New("replication: field too long")
)
