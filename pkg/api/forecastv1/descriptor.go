package forecastv1

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFile is the path the service is registered under in the global
// descriptor registry.
const ProtoFile = "demandcast/v1/forecaster.proto"

// File describes demandcast/v1/forecaster.proto. gRPC reflection serves it
// so generic clients can call the service.
var File protoreflect.FileDescriptor

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("forecastv1: build %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("forecastv1: register %s: %v", ProtoFile, err))
	}
	File = fd
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	method := func(name string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		}
	}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("demandcast.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("Forecaster"),
			Method: []*descriptorpb.MethodDescriptorProto{method("Train"), method("Forecast")},
		}},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/HatiCode/demandcast/pkg/api/forecastv1"),
		},
		Syntax: proto.String("proto3"),
	}
}
