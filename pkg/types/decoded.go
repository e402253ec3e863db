package types

import (
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Outcome discriminates the three variants of a DecodedEvent.
type Outcome int

const (
	// OutcomeDecoded means the payload parsed and the selected field was present.
	OutcomeDecoded Outcome = iota
	// OutcomeUnhandled means no decoding rule exists for the event type.
	OutcomeUnhandled
	// OutcomeDecodeError means a rule exists but the payload could not be decoded.
	OutcomeDecodeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "decoded"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DecodedEvent is the result of decoding one envelope. Every decode attempt on a
// well-formed envelope yields exactly one of the three variants; callers branch
// on Outcome.
type DecodedEvent struct {
	Outcome   Outcome
	EventType string

	// Field and Message are set for OutcomeDecoded.
	Field   string
	Message protoreflect.Message

	// Tier is set for OutcomeUnhandled.
	Tier Tier

	// Err is set for OutcomeDecodeError.
	Err error
}

// Decoded builds the success variant.
func Decoded(eventType, field string, msg protoreflect.Message) DecodedEvent {
	return DecodedEvent{Outcome: OutcomeDecoded, EventType: eventType, Field: field, Message: msg}
}

// Unhandled builds the variant for an event type with no registered rule.
func Unhandled(eventType string, tier Tier) DecodedEvent {
	return DecodedEvent{Outcome: OutcomeUnhandled, EventType: eventType, Tier: tier}
}

// DecodeFailure builds the variant for a known type whose payload did not decode.
func DecodeFailure(eventType string, cause error) DecodedEvent {
	return DecodedEvent{Outcome: OutcomeDecodeError, EventType: eventType, Err: cause}
}

// String renders the event for console output.
func (e DecodedEvent) String() string {
	switch e.Outcome {
	case OutcomeDecoded:
		if e.Message == nil {
			return ""
		}
		return prototext.MarshalOptions{Multiline: true}.Format(e.Message.Interface())
	case OutcomeUnhandled:
		return fmt.Sprintf("Unhandled event type: %s via %s", e.EventType, e.Tier)
	case OutcomeDecodeError:
		return fmt.Sprintf("Error decoding event: %v", e.Err)
	default:
		return e.Outcome.String()
	}
}
