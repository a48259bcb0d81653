package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "opendo96.v1.OutputService"

const (
	methodSetOutputs   = "/" + ServiceName + "/SetOutputs"
	methodGetState     = "/" + ServiceName + "/GetState"
	methodWatchOutputs = "/" + ServiceName + "/WatchOutputs"
)

// OutputServiceServer is the server API. Messages are google.protobuf.Struct
// so no generated code is needed.
type OutputServiceServer interface {
	SetOutputs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchOutputs(*structpb.Struct, OutputService_WatchOutputsServer) error
}

type OutputService_WatchOutputsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type outputServiceWatchOutputsServer struct {
	grpc.ServerStream
}

func (x *outputServiceWatchOutputsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterOutputServiceServer(s grpc.ServiceRegistrar, srv OutputServiceServer) {
	s.RegisterService(&OutputService_ServiceDesc, srv)
}

func _OutputService_SetOutputs_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OutputServiceServer).SetOutputs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetOutputs}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OutputServiceServer).SetOutputs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _OutputService_GetState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OutputServiceServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetState}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OutputServiceServer).GetState(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _OutputService_WatchOutputs_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(OutputServiceServer).WatchOutputs(m, &outputServiceWatchOutputsServer{stream})
}

var OutputService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OutputServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetOutputs", Handler: _OutputService_SetOutputs_Handler},
		{MethodName: "GetState", Handler: _OutputService_GetState_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchOutputs", Handler: _OutputService_WatchOutputs_Handler, ServerStreams: true},
	},
	Metadata: "opendo96/v1/output_service.proto",
}

// OutputServiceClient is the client API, used by tools and tests.
type OutputServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOutputServiceClient(cc grpc.ClientConnInterface) *OutputServiceClient {
	return &OutputServiceClient{cc: cc}
}

func (c *OutputServiceClient) SetOutputs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSetOutputs, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OutputServiceClient) GetState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetState, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchOutputs opens the event stream; call Recv on the result until it
// returns an error.
func (c *OutputServiceClient) WatchOutputs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*WatchOutputsClient, error) {
	stream, err := c.cc.NewStream(ctx, &OutputService_ServiceDesc.Streams[0], methodWatchOutputs, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchOutputsClient{stream}, nil
}

type WatchOutputsClient struct {
	grpc.ClientStream
}

func (x *WatchOutputsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
