package envelope

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Decoder turns raw envelope bytes into a DecodedEvent. It holds no mutable
// state and is safe for concurrent use.
type Decoder struct {
	registry *registry.Registry
}

// NewDecoder creates a Decoder backed by the given registry.
func NewDecoder(reg *registry.Registry) (*Decoder, error) {
	if reg == nil {
		return nil, errors.New("envelope: registry is required")
	}
	return &Decoder{registry: reg}, nil
}

// Decode parses raw as an envelope and decodes its payload. The only error
// returned is a *MalformedEnvelopeError. Unknown event types and payloads that
// fail to decode are reported through the returned event's Outcome.
func (d *Decoder) Decode(raw []byte) (*types.RawEnvelope, types.DecodedEvent, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, types.DecodedEvent{}, err
	}
	return env, d.DecodeEnvelope(env), nil
}

// DecodeEnvelope decodes the payload of an already parsed envelope.
func (d *Decoder) DecodeEnvelope(env *types.RawEnvelope) types.DecodedEvent {
	rule, ok := d.registry.Lookup(env.Type)
	if !ok {
		return types.Unhandled(env.Type, types.ClassifyTier(env.Size))
	}
	return decodePayload(rule, env.Payload)
}

func decodePayload(rule registry.Rule, payload []byte) (event types.DecodedEvent) {
	defer func() {
		if r := recover(); r != nil {
			event = types.DecodeFailure(rule.EventType, &PayloadDecodeError{
				EventType: rule.EventType,
				Schema:    string(rule.Schema.FullName()),
				Field:     rule.Field,
				Err:       fmt.Errorf("panic: %v", r),
			})
		}
	}()

	msg := dynamicpb.NewMessage(rule.Schema)
	if err := proto.Unmarshal(payload, msg); err != nil {
		return types.DecodeFailure(rule.EventType, &PayloadDecodeError{
			EventType: rule.EventType,
			Schema:    string(rule.Schema.FullName()),
			Field:     rule.Field,
			Err:       err,
		})
	}

	sub, ok := rule.Select(msg)
	if !ok {
		return types.DecodeFailure(rule.EventType, &PayloadDecodeError{
			EventType: rule.EventType,
			Schema:    string(rule.Schema.FullName()),
			Field:     rule.Field,
		})
	}
	return types.Decoded(rule.EventType, rule.Field, sub)
}
