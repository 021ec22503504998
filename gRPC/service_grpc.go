package backend

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service descriptor for fooddet.DetectService. The messages are protobuf
// well-known types, so no generated message code is needed.
//
//	service DetectService {
//	  rpc Inference(google.protobuf.BytesValue) returns (google.protobuf.Struct);
//	  rpc Health(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc Classes(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	}
const (
	ServiceName            = "fooddet.DetectService"
	DetectServiceInference = "/fooddet.DetectService/Inference"
	DetectServiceHealth    = "/fooddet.DetectService/Health"
	DetectServiceClasses   = "/fooddet.DetectService/Classes"
)

type DetectServiceServer interface {
	Inference(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Classes(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

func RegisterDetectServiceServer(s grpc.ServiceRegistrar, srv DetectServiceServer) {
	s.RegisterService(&DetectService_ServiceDesc, srv)
}

func _DetectService_Inference_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Inference(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectServiceInference}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Inference(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectServiceHealth}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_Classes_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Classes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectServiceClasses}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Classes(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var DetectService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Inference", Handler: _DetectService_Inference_Handler},
		{MethodName: "Health", Handler: _DetectService_Health_Handler},
		{MethodName: "Classes", Handler: _DetectService_Classes_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fooddet/detect.proto",
}

// DetectServiceClient calls a remote DetectService.
type DetectServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDetectServiceClient(cc grpc.ClientConnInterface) *DetectServiceClient {
	return &DetectServiceClient{cc: cc}
}

func (c *DetectServiceClient) Inference(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DetectServiceInference, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DetectServiceClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DetectServiceHealth, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DetectServiceClient) Classes(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, DetectServiceClasses, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
