package types

import (
	"encoding/base64"
	"strconv"
	"time"
)

// AttributeKind identifies which variant an AttributeValue holds.
type AttributeKind int

const (
	AttributeUnset AttributeKind = iota
	AttributeBoolean
	AttributeInteger
	AttributeString
	AttributeBytes
	AttributeURI
	AttributeURIRef
	AttributeTimestamp
)

func (k AttributeKind) String() string {
	switch k {
	case AttributeBoolean:
		return "boolean"
	case AttributeInteger:
		return "integer"
	case AttributeString:
		return "string"
	case AttributeBytes:
		return "bytes"
	case AttributeURI:
		return "uri"
	case AttributeURIRef:
		return "uri_ref"
	case AttributeTimestamp:
		return "timestamp"
	default:
		return "unset"
	}
}

// AttributeValue is one typed CloudEvent extension attribute. Only the field
// matching Kind is meaningful; URI and URIRef values are carried in Text.
type AttributeValue struct {
	Kind    AttributeKind
	Boolean bool
	Integer int32
	Text    string
	Bytes   []byte
	Time    time.Time
}

// StringAttribute is a convenience constructor for the common string variant.
func StringAttribute(s string) AttributeValue {
	return AttributeValue{Kind: AttributeString, Text: s}
}

// String renders the value regardless of variant.
func (v AttributeValue) String() string {
	switch v.Kind {
	case AttributeBoolean:
		return strconv.FormatBool(v.Boolean)
	case AttributeInteger:
		return strconv.FormatInt(int64(v.Integer), 10)
	case AttributeString, AttributeURI, AttributeURIRef:
		return v.Text
	case AttributeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case AttributeTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// RawEnvelope is the generic CloudEvent wrapper as received on the wire. It is
// built once per message by the envelope parser and is not modified afterwards.
type RawEnvelope struct {
	ID          string
	Source      string
	SpecVersion string
	Type        string
	Attributes  map[string]AttributeValue

	// PayloadTypeURL is the type URL of the proto_data Any, if that was the data variant.
	PayloadTypeURL string
	// Payload holds the opaque nested bytes whose schema is chosen by Type.
	Payload []byte

	// Size is the serialized length of the envelope in bytes.
	Size int
}

// Attribute returns the named attribute.
func (e *RawEnvelope) Attribute(name string) (AttributeValue, bool) {
	if e == nil || e.Attributes == nil {
		return AttributeValue{}, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// Subject returns the "subject" attribute, which the platform uses to carry the
// customer identifier.
func (e *RawEnvelope) Subject() (string, bool) {
	v, ok := e.Attribute("subject")
	if !ok || v.Kind == AttributeUnset {
		return "", false
	}
	return v.String(), true
}

// AttributeStrings flattens the attribute map into strings, for sinks whose
// metadata model is string-only.
func (e *RawEnvelope) AttributeStrings() map[string]string {
	if e == nil || len(e.Attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out[k] = v.String()
	}
	return out
}
