package envelope

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope matches any MalformedEnvelopeError via errors.Is.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrPayloadDecode matches any PayloadDecodeError via errors.Is.
	ErrPayloadDecode = errors.New("payload decode failed")
)

// MalformedEnvelopeError reports bytes that did not parse as the outer envelope.
// It is the only error Decode returns.
type MalformedEnvelopeError struct {
	Size int
	Err  error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope (%d bytes): %v", e.Size, e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

func (e *MalformedEnvelopeError) Is(target error) bool { return target == ErrMalformedEnvelope }

// PayloadDecodeError is the cause carried by a decode-error DecodedEvent. It is
// never returned from Decode.
type PayloadDecodeError struct {
	EventType string
	Schema    string
	Field     string
	// Err is nil when the payload parsed but the selected field was absent.
	Err error
}

func (e *PayloadDecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("field %s not set in %s payload for %s", e.Field, e.Schema, e.EventType)
	}
	return fmt.Sprintf("parse %s payload for %s: %v", e.Schema, e.EventType, e.Err)
}

func (e *PayloadDecodeError) Unwrap() error { return e.Err }

func (e *PayloadDecodeError) Is(target error) bool { return target == ErrPayloadDecode }
