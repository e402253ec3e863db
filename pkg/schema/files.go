package schema

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	timestampType = ".google.protobuf.Timestamp"
)

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func message(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typeMessage)
	f.TypeName = proto.String(typeName)
	return f
}

func inOneof(index int32, f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(index)
	return f
}

func file(name, pkg string, deps []string, msgs ...*descriptorpb.DescriptorProto) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(name),
		Package:     proto.String(pkg),
		Dependency:  deps,
		Syntax:      proto.String("proto3"),
		MessageType: msgs,
	}
}

// cloudEventsFile mirrors io/cloudevents/v1/cloudevents.proto from the
// CloudEvents protobuf format.
func cloudEventsFile() *descriptorpb.FileDescriptorProto {
	attributeValue := &descriptorpb.DescriptorProto{
		Name: proto.String("CloudEventAttributeValue"),
		Field: []*descriptorpb.FieldDescriptorProto{
			inOneof(0, scalar("ce_boolean", 1, typeBool)),
			inOneof(0, scalar("ce_integer", 2, typeInt32)),
			inOneof(0, scalar("ce_string", 3, typeString)),
			inOneof(0, scalar("ce_bytes", 4, typeBytes)),
			inOneof(0, scalar("ce_uri", 5, typeString)),
			inOneof(0, scalar("ce_uri_ref", 6, typeString)),
			inOneof(0, message("ce_timestamp", 7, timestampType)),
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("attr")}},
	}

	attributesEntry := &descriptorpb.DescriptorProto{
		Name: proto.String("AttributesEntry"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("key", 1, typeString),
			message("value", 2, ".io.cloudevents.v1.CloudEvent.CloudEventAttributeValue"),
		},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}

	attributes := message("attributes", 5, ".io.cloudevents.v1.CloudEvent.AttributesEntry")
	attributes.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	cloudEvent := &descriptorpb.DescriptorProto{
		Name: proto.String("CloudEvent"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("id", 1, typeString),
			scalar("source", 2, typeString),
			scalar("spec_version", 3, typeString),
			scalar("type", 4, typeString),
			attributes,
			inOneof(0, scalar("binary_data", 6, typeBytes)),
			inOneof(0, scalar("text_data", 7, typeString)),
			inOneof(0, message("proto_data", 8, ".google.protobuf.Any")),
		},
		OneofDecl:  []*descriptorpb.OneofDescriptorProto{{Name: proto.String("data")}},
		NestedType: []*descriptorpb.DescriptorProto{attributesEntry, attributeValue},
	}

	return file("io/cloudevents/v1/cloudevents.proto", "io.cloudevents.v1",
		[]string{"google/protobuf/any.proto", "google/protobuf/timestamp.proto"},
		cloudEvent)
}

// widsFile declares the wireless intrusion detection stream messages. The
// oneof member names keep the producer's camelCase spelling.
func widsFile() *descriptorpb.FileDescriptorProto {
	rules := &descriptorpb.DescriptorProto{
		Name: proto.String("WidsRulesEvent"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("id", 1, typeString),
			scalar("rule_name", 2, typeString),
			scalar("severity", 3, typeString),
			scalar("site_id", 4, typeString),
			scalar("device_mac", 5, typeString),
			scalar("description", 6, typeString),
			message("detected_at", 7, timestampType),
		},
	}
	signatures := &descriptorpb.DescriptorProto{
		Name: proto.String("WidsSignaturesEvent"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("id", 1, typeString),
			scalar("signature_name", 2, typeString),
			scalar("severity", 3, typeString),
			scalar("site_id", 4, typeString),
			scalar("attacker_mac", 5, typeString),
			scalar("channel", 6, typeInt32),
			message("detected_at", 7, timestampType),
		},
	}
	stream := &descriptorpb.DescriptorProto{
		Name: proto.String("WidsStreamMessage"),
		Field: []*descriptorpb.FieldDescriptorProto{
			inOneof(0, message("widsRulesEvent", 1, ".cnx.wids.v1alpha1.WidsRulesEvent")),
			inOneof(0, message("widsSignaturesEvent", 2, ".cnx.wids.v1alpha1.WidsSignaturesEvent")),
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("event")}},
	}
	return file("cnx/wids/v1alpha1/wids.proto", "cnx.wids.v1alpha1",
		[]string{"google/protobuf/timestamp.proto"},
		rules, signatures, stream)
}

func locationFile() *descriptorpb.FileDescriptorProto {
	client := &descriptorpb.DescriptorProto{
		Name: proto.String("WifiClientLocation"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("client_mac", 1, typeString),
			scalar("site_id", 2, typeString),
			scalar("floor_id", 3, typeString),
			scalar("x", 4, typeDouble),
			scalar("y", 5, typeDouble),
			scalar("accuracy", 6, typeDouble),
			message("located_at", 7, timestampType),
		},
	}
	tag := &descriptorpb.DescriptorProto{
		Name: proto.String("AssetTagLocation"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("tag_id", 1, typeString),
			scalar("site_id", 2, typeString),
			scalar("floor_id", 3, typeString),
			scalar("x", 4, typeDouble),
			scalar("y", 5, typeDouble),
			scalar("battery_level", 6, typeInt32),
			message("last_seen", 7, timestampType),
		},
	}
	stream := &descriptorpb.DescriptorProto{
		Name: proto.String("StreamLocationMessage"),
		Field: []*descriptorpb.FieldDescriptorProto{
			inOneof(0, message("wifi_client_location", 1, ".cnx.location.v1alpha1.WifiClientLocation")),
			inOneof(0, message("asset_tag_location", 2, ".cnx.location.v1alpha1.AssetTagLocation")),
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("location")}},
	}
	return file("cnx/location/v1alpha1/location.proto", "cnx.location.v1alpha1",
		[]string{"google/protobuf/timestamp.proto"},
		client, tag, stream)
}
