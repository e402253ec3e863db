package envelope_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/envelope"
	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/illmade-knight/go-cnxstream/pkg/schema"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func widsRulesPayload(t *testing.T, ruleName string) (protoreflect.Message, []byte) {
	t.Helper()
	stream := schema.NewMessage(schema.WidsStreamMessage)
	fd := schema.WidsStreamMessage.Fields().ByName("widsRulesEvent")
	rule := stream.NewField(fd).Message()
	rule.Set(schema.WidsRulesEvent.Fields().ByName("rule_name"), protoreflect.ValueOfString(ruleName))
	rule.Set(schema.WidsRulesEvent.Fields().ByName("site_id"), protoreflect.ValueOfString("site-7"))
	stream.Set(fd, protoreflect.ValueOfMessage(rule))

	b, err := proto.Marshal(stream.Interface())
	require.NoError(t, err)
	return rule, b
}

func encode(t *testing.T, env *types.RawEnvelope) []byte {
	t.Helper()
	b, err := envelope.Encode(env)
	require.NoError(t, err)
	return b
}

func newDecoder(t *testing.T) *envelope.Decoder {
	t.Helper()
	d, err := envelope.NewDecoder(registry.MustDefault())
	require.NoError(t, err)
	return d
}

func TestParse_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC)
	in := &types.RawEnvelope{
		ID:          "evt-1",
		Source:      "//network-services",
		SpecVersion: "1.0",
		Type:        registry.WidsRulesDetectionCreated,
		Attributes: map[string]types.AttributeValue{
			"subject":  types.StringAttribute("customer-42"),
			"count":    {Kind: types.AttributeInteger, Integer: 3},
			"flag":     {Kind: types.AttributeBoolean, Boolean: false},
			"blob":     {Kind: types.AttributeBytes, Bytes: []byte{1, 2}},
			"link":     {Kind: types.AttributeURI, Text: "https://example.com/a"},
			"ref":      {Kind: types.AttributeURIRef, Text: "/a"},
			"observed": {Kind: types.AttributeTimestamp, Time: ts},
		},
		PayloadTypeURL: "type.googleapis.com/cnx.wids.v1alpha1.WidsStreamMessage",
		Payload:        []byte{0x0a, 0x00},
	}

	raw := encode(t, in)
	out, err := envelope.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Source, out.Source)
	assert.Equal(t, in.SpecVersion, out.SpecVersion)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.PayloadTypeURL, out.PayloadTypeURL)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, len(raw), out.Size)
	subject, ok := out.Subject()
	require.True(t, ok)
	assert.Equal(t, "customer-42", subject)
	require.Len(t, out.Attributes, len(in.Attributes))
	for k, v := range in.Attributes {
		assert.Equal(t, v.Kind, out.Attributes[k].Kind, k)
		assert.Equal(t, v.String(), out.Attributes[k].String(), k)
	}
}

func TestParse_Malformed(t *testing.T) {
	// Field 1 declared as length-delimited with a length past the end of input.
	_, err := envelope.Parse([]byte{0x0a, 0x7f, 'x'})
	require.Error(t, err)
	assert.ErrorIs(t, err, envelope.ErrMalformedEnvelope)

	var malformed *envelope.MalformedEnvelopeError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 3, malformed.Size)
}

func TestDecode_KnownType(t *testing.T) {
	d := newDecoder(t)
	want, payload := widsRulesPayload(t, "rogue-ap")
	raw := encode(t, &types.RawEnvelope{Type: registry.WidsRulesDetectionCreated, Payload: payload})

	env, event, err := d.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.Equal(t, types.OutcomeDecoded, event.Outcome)
	assert.Equal(t, registry.WidsRulesDetectionCreated, event.EventType)
	assert.Equal(t, "widsRulesEvent", event.Field)
	require.NotNil(t, event.Message)
	assert.Equal(t, schema.WidsRulesEvent.FullName(), event.Message.Descriptor().FullName())
	assert.True(t, proto.Equal(want.Interface(), event.Message.Interface()))
	assert.Equal(t, "rogue-ap", event.Message.Get(schema.WidsRulesEvent.Fields().ByName("rule_name")).String())
	assert.Contains(t, event.String(), "rogue-ap")
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	d := newDecoder(t)
	testCases := []struct {
		name    string
		payload []byte
		tier    types.Tier
	}{
		{name: "small", payload: []byte("abc"), tier: types.TierLightweight},
		{name: "large", payload: bytes.Repeat([]byte{0xff}, types.TierThresholdBytes), tier: types.TierHeavyweight},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := encode(t, &types.RawEnvelope{Type: "com.example.unknown", Payload: tc.payload})

			_, event, err := d.Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, types.OutcomeUnhandled, event.Outcome)
			assert.Equal(t, "com.example.unknown", event.EventType)
			assert.Equal(t, tc.tier, event.Tier)
			assert.Equal(t, "Unhandled event type: com.example.unknown via "+string(tc.tier), event.String())
		})
	}
}

func TestDecode_PayloadFailures(t *testing.T) {
	d := newDecoder(t)
	_, good := widsRulesPayload(t, "rogue-ap")

	testCases := []struct {
		name      string
		eventType string
		payload   []byte
	}{
		{name: "truncated payload", eventType: registry.WidsRulesDetectionCreated, payload: good[:len(good)-1]},
		{name: "empty payload", eventType: registry.WidsRulesDetectionCreated, payload: nil},
		{name: "other oneof member", eventType: registry.WidsSignaturesDetectionCreated, payload: good},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := encode(t, &types.RawEnvelope{Type: tc.eventType, Payload: tc.payload})

			env, event, err := d.Decode(raw)
			require.NoError(t, err, "payload failures are never returned as errors")
			require.NotNil(t, env)
			assert.Equal(t, types.OutcomeDecodeError, event.Outcome)
			assert.Equal(t, tc.eventType, event.EventType)
			assert.ErrorIs(t, event.Err, envelope.ErrPayloadDecode)
			assert.Contains(t, event.String(), "Error decoding event:")
		})
	}
}

func TestDecode_IsTotal(t *testing.T) {
	d := newDecoder(t)
	inputs := [][]byte{
		nil,
		{},
		{0xff},
		{0x0a, 0x7f},
		bytes.Repeat([]byte{0x08}, 64),
		[]byte("not a protobuf at all"),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, event, err := d.Decode(in)
			if err != nil {
				assert.ErrorIs(t, err, envelope.ErrMalformedEnvelope)
				return
			}
			assert.Contains(t, []types.Outcome{types.OutcomeDecoded, types.OutcomeUnhandled, types.OutcomeDecodeError}, event.Outcome)
		})
	}
}

func TestNewDecoder_RequiresRegistry(t *testing.T) {
	_, err := envelope.NewDecoder(nil)
	assert.Error(t, err)
}
