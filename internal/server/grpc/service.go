package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "bruteguard.admin.v1.LockoutAdmin"

// Full method names.
const (
	MethodGetStatus = "/" + ServiceName + "/GetStatus"
	MethodReset     = "/" + ServiceName + "/Reset"
)

// LockoutAdminServer is the admin service. Messages are protobuf well-known
// types so no generated code is needed.
type LockoutAdminServer interface {
	GetStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Reset(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// ServiceDesc describes LockoutAdmin for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LockoutAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "Reset", Handler: resetHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// Register registers srv on r.
func Register(r grpc.ServiceRegistrar, srv LockoutAdminServer) {
	r.RegisterService(&ServiceDesc, srv)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockoutAdminServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockoutAdminServer).GetStatus(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockoutAdminServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodReset}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockoutAdminServer).Reset(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls LockoutAdmin over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetStatus calls LockoutAdmin.GetStatus.
func (c *Client) GetStatus(ctx context.Context, key string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetStatus, wrapperspb.String(key), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Reset calls LockoutAdmin.Reset.
func (c *Client) Reset(ctx context.Context, key string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodReset, wrapperspb.String(key), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
