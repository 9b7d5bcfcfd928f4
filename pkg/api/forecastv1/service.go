// Package forecastv1 defines the demandcast.v1.Forecaster gRPC service.
//
// Messages travel as google.protobuf.Struct so the service needs no generated
// code; the typed request and response structs in this package describe their
// shape and convert with ToStruct and FromStruct.
package forecastv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "demandcast.v1.Forecaster"

const (
	trainMethod    = "/" + ServiceName + "/Train"
	forecastMethod = "/" + ServiceName + "/Forecast"
)

// ForecasterServer is the server API for the Forecaster service.
type ForecasterServer interface {
	// Train takes a TrainRequest and returns a TrainResponse.
	Train(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Forecast takes a ForecastRequest and returns a ForecastResponse.
	Forecast(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedForecasterServer answers Unimplemented for every method.
type UnimplementedForecasterServer struct{}

func (UnimplementedForecasterServer) Train(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Train not implemented")
}

func (UnimplementedForecasterServer) Forecast(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Forecast not implemented")
}

// RegisterForecasterServer registers srv with s.
func RegisterForecasterServer(s grpc.ServiceRegistrar, srv ForecasterServer) {
	s.RegisterService(&ForecasterServiceDesc, srv)
}

func trainHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecasterServer).Train(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: trainMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecasterServer).Train(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func forecastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecasterServer).Forecast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: forecastMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecasterServer).Forecast(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ForecasterServiceDesc is the grpc.ServiceDesc for the Forecaster service.
var ForecasterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForecasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Train", Handler: trainHandler},
		{MethodName: "Forecast", Handler: forecastHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

// Client is a typed client for the Forecaster service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Train runs model selection remotely.
func (c *Client) Train(ctx context.Context, req TrainRequest, opts ...grpc.CallOption) (*TrainResponse, error) {
	var resp TrainResponse
	if err := c.invoke(ctx, trainMethod, req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Forecast requests a forecast from the stored best model.
func (c *Client) Forecast(ctx context.Context, req ForecastRequest, opts ...grpc.CallOption) (*ForecastResponse, error) {
	var resp ForecastResponse
	if err := c.invoke(ctx, forecastMethod, req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	return FromStruct(out, resp)
}
