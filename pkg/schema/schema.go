// Package schema holds the protobuf message schemas used on the stream: the
// outer CloudEvent envelope and the payload messages that event types map to.
//
// The descriptors are declared as data and compiled once at package init, so
// the rest of the module works with protoreflect and dynamicpb rather than
// generated types.
package schema

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	// Registers google/protobuf/any.proto and timestamp.proto in GlobalFiles,
	// which the declared files depend on.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
)

var files = buildFiles(cloudEventsFile(), widsFile(), locationFile())

var (
	// CloudEvent is io.cloudevents.v1.CloudEvent, the outer envelope.
	CloudEvent = mustMessage("io.cloudevents.v1.CloudEvent")
	// CloudEventAttributeValue is the typed value of one envelope attribute.
	CloudEventAttributeValue = mustMessage("io.cloudevents.v1.CloudEvent.CloudEventAttributeValue")

	WidsStreamMessage   = mustMessage("cnx.wids.v1alpha1.WidsStreamMessage")
	WidsRulesEvent      = mustMessage("cnx.wids.v1alpha1.WidsRulesEvent")
	WidsSignaturesEvent = mustMessage("cnx.wids.v1alpha1.WidsSignaturesEvent")

	StreamLocationMessage = mustMessage("cnx.location.v1alpha1.StreamLocationMessage")
	WifiClientLocation    = mustMessage("cnx.location.v1alpha1.WifiClientLocation")
	AssetTagLocation      = mustMessage("cnx.location.v1alpha1.AssetTagLocation")
)

// Files returns the registry of every declared schema file.
func Files() *protoregistry.Files {
	return files
}

// Lookup resolves a message schema by its fully-qualified name.
func Lookup(fullName string) (protoreflect.MessageDescriptor, bool) {
	d, err := files.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, false
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	return md, ok
}

// NewMessage returns an empty, mutable message of the given schema.
func NewMessage(md protoreflect.MessageDescriptor) protoreflect.Message {
	return dynamicpb.NewMessage(md)
}

func buildFiles(protos ...*descriptorpb.FileDescriptorProto) *protoregistry.Files {
	reg := new(protoregistry.Files)
	for _, fdp := range protos {
		fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
		if err != nil {
			panic(fmt.Sprintf("schema: building %s: %v", fdp.GetName(), err))
		}
		if err := reg.RegisterFile(fd); err != nil {
			panic(fmt.Sprintf("schema: registering %s: %v", fdp.GetName(), err))
		}
	}
	return reg
}

func mustMessage(fullName string) protoreflect.MessageDescriptor {
	md, ok := Lookup(fullName)
	if !ok {
		panic(fmt.Sprintf("schema: message %s is not declared", fullName))
	}
	return md
}
