package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ledgerwatch.v1.LedgerService"

// Method paths.
const (
	MethodExecute     = "/" + ServiceName + "/Execute"
	MethodListPending = "/" + ServiceName + "/ListPending"
	MethodApprove     = "/" + ServiceName + "/Approve"
	MethodDeny        = "/" + ServiceName + "/Deny"
)

// LedgerServiceServer is the server API. Messages are google.protobuf.Struct
// so the service needs no generated code; the JSON shapes match the HTTP API.
type LedgerServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deny(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedLedgerServiceServer can be embedded for forward compatibility.
type UnimplementedLedgerServiceServer struct{}

func (UnimplementedLedgerServiceServer) Execute(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Execute not implemented")
}
func (UnimplementedLedgerServiceServer) ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListPending not implemented")
}
func (UnimplementedLedgerServiceServer) Approve(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Approve not implemented")
}
func (UnimplementedLedgerServiceServer) Deny(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Deny not implemented")
}

// RegisterLedgerServiceServer registers srv on s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerService_ServiceDesc, srv)
}

// LedgerServiceClient is the client API.
type LedgerServiceClient interface {
	Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListPending(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Approve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Deny(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type ledgerServiceClient struct{ cc grpc.ClientConnInterface }

// NewLedgerServiceClient wraps cc.
func NewLedgerServiceClient(cc grpc.ClientConnInterface) LedgerServiceClient {
	return &ledgerServiceClient{cc: cc}
}

func (c *ledgerServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodExecute, in, opts)
}

func (c *ledgerServiceClient) ListPending(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListPending, in, opts)
}

func (c *ledgerServiceClient) Approve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodApprove, in, opts)
}

func (c *ledgerServiceClient) Deny(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDeny, in, opts)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		h := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

// LedgerService_ServiceDesc describes the service for grpc.Server.
var LedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: handler(MethodExecute, LedgerServiceServer.Execute)},
		{MethodName: "ListPending", Handler: handler(MethodListPending, LedgerServiceServer.ListPending)},
		{MethodName: "Approve", Handler: handler(MethodApprove, LedgerServiceServer.Approve)},
		{MethodName: "Deny", Handler: handler(MethodDeny, LedgerServiceServer.Deny)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledgerwatch/v1/ledger.proto",
}
