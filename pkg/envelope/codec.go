// Package envelope parses CloudEvent envelopes off the wire and decodes their
// payloads into typed events using a registry of decoding rules.
package envelope

import (
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/schema"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

var (
	ceFields    = schema.CloudEvent.Fields()
	fdID        = ceFields.ByName("id")
	fdSource    = ceFields.ByName("source")
	fdSpec      = ceFields.ByName("spec_version")
	fdType      = ceFields.ByName("type")
	fdAttrs     = ceFields.ByName("attributes")
	fdBinary    = ceFields.ByName("binary_data")
	fdText      = ceFields.ByName("text_data")
	fdProtoData = ceFields.ByName("proto_data")

	anyFields  = fdProtoData.Message().Fields()
	fdTypeURL  = anyFields.ByName("type_url")
	fdAnyValue = anyFields.ByName("value")

	attrFields  = schema.CloudEventAttributeValue.Fields()
	attrOneof   = schema.CloudEventAttributeValue.Oneofs().ByName("attr")
	fdCeBool    = attrFields.ByName("ce_boolean")
	fdCeInt     = attrFields.ByName("ce_integer")
	fdCeString  = attrFields.ByName("ce_string")
	fdCeBytes   = attrFields.ByName("ce_bytes")
	fdCeURI     = attrFields.ByName("ce_uri")
	fdCeURIRef  = attrFields.ByName("ce_uri_ref")
	fdCeTime    = attrFields.ByName("ce_timestamp")
	tsFields    = fdCeTime.Message().Fields()
	fdTsSeconds = tsFields.ByName("seconds")
	fdTsNanos   = tsFields.ByName("nanos")
)

// Parse decodes raw bytes as the outer CloudEvent envelope. The payload is
// taken from whichever data variant is set; proto_data is the one the platform
// uses. A parse failure is returned as a *MalformedEnvelopeError.
func Parse(raw []byte) (*types.RawEnvelope, error) {
	msg := dynamicpb.NewMessage(schema.CloudEvent)
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil, &MalformedEnvelopeError{Size: len(raw), Err: err}
	}

	env := &types.RawEnvelope{
		ID:          msg.Get(fdID).String(),
		Source:      msg.Get(fdSource).String(),
		SpecVersion: msg.Get(fdSpec).String(),
		Type:        msg.Get(fdType).String(),
		Size:        len(raw),
	}

	attrs := msg.Get(fdAttrs).Map()
	if attrs.Len() > 0 {
		env.Attributes = make(map[string]types.AttributeValue, attrs.Len())
		attrs.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
			env.Attributes[k.String()] = attributeFromProto(v.Message())
			return true
		})
	}

	switch {
	case msg.Has(fdProtoData):
		anyMsg := msg.Get(fdProtoData).Message()
		env.PayloadTypeURL = anyMsg.Get(fdTypeURL).String()
		env.Payload = anyMsg.Get(fdAnyValue).Bytes()
	case msg.Has(fdBinary):
		env.Payload = msg.Get(fdBinary).Bytes()
	case msg.Has(fdText):
		env.Payload = []byte(msg.Get(fdText).String())
	}
	return env, nil
}

// Encode serializes an envelope. The payload is written as proto_data with the
// envelope's PayloadTypeURL.
func Encode(env *types.RawEnvelope) ([]byte, error) {
	msg := dynamicpb.NewMessage(schema.CloudEvent)
	setString(msg, fdID, env.ID)
	setString(msg, fdSource, env.Source)
	setString(msg, fdSpec, env.SpecVersion)
	setString(msg, fdType, env.Type)

	if len(env.Attributes) > 0 {
		attrs := msg.Mutable(fdAttrs).Map()
		for k, v := range env.Attributes {
			val := attrs.NewValue()
			attributeToProto(val.Message(), v)
			attrs.Set(protoreflect.ValueOfString(k).MapKey(), val)
		}
	}

	if env.Payload != nil || env.PayloadTypeURL != "" {
		anyMsg := msg.Mutable(fdProtoData).Message()
		setString(anyMsg, fdTypeURL, env.PayloadTypeURL)
		if len(env.Payload) > 0 {
			anyMsg.Set(fdAnyValue, protoreflect.ValueOfBytes(env.Payload))
		}
	}

	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func setString(msg protoreflect.Message, fd protoreflect.FieldDescriptor, s string) {
	if s != "" {
		msg.Set(fd, protoreflect.ValueOfString(s))
	}
}

func attributeFromProto(m protoreflect.Message) types.AttributeValue {
	fd := m.WhichOneof(attrOneof)
	if fd == nil {
		return types.AttributeValue{}
	}
	v := m.Get(fd)
	switch fd.Number() {
	case fdCeBool.Number():
		return types.AttributeValue{Kind: types.AttributeBoolean, Boolean: v.Bool()}
	case fdCeInt.Number():
		return types.AttributeValue{Kind: types.AttributeInteger, Integer: int32(v.Int())}
	case fdCeString.Number():
		return types.AttributeValue{Kind: types.AttributeString, Text: v.String()}
	case fdCeBytes.Number():
		return types.AttributeValue{Kind: types.AttributeBytes, Bytes: v.Bytes()}
	case fdCeURI.Number():
		return types.AttributeValue{Kind: types.AttributeURI, Text: v.String()}
	case fdCeURIRef.Number():
		return types.AttributeValue{Kind: types.AttributeURIRef, Text: v.String()}
	case fdCeTime.Number():
		ts := v.Message()
		t := time.Unix(ts.Get(fdTsSeconds).Int(), ts.Get(fdTsNanos).Int()).UTC()
		return types.AttributeValue{Kind: types.AttributeTimestamp, Time: t}
	}
	return types.AttributeValue{}
}

func attributeToProto(m protoreflect.Message, v types.AttributeValue) {
	switch v.Kind {
	case types.AttributeBoolean:
		m.Set(fdCeBool, protoreflect.ValueOfBool(v.Boolean))
	case types.AttributeInteger:
		m.Set(fdCeInt, protoreflect.ValueOfInt32(v.Integer))
	case types.AttributeString:
		m.Set(fdCeString, protoreflect.ValueOfString(v.Text))
	case types.AttributeBytes:
		m.Set(fdCeBytes, protoreflect.ValueOfBytes(v.Bytes))
	case types.AttributeURI:
		m.Set(fdCeURI, protoreflect.ValueOfString(v.Text))
	case types.AttributeURIRef:
		m.Set(fdCeURIRef, protoreflect.ValueOfString(v.Text))
	case types.AttributeTimestamp:
		ts := m.Mutable(fdCeTime).Message()
		ts.Set(fdTsSeconds, protoreflect.ValueOfInt64(v.Time.Unix()))
		ts.Set(fdTsNanos, protoreflect.ValueOfInt32(int32(v.Time.Nanosecond())))
	}
}
