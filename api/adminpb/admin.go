// Package adminpb describes the warden.admin.v1.Admin gRPC service. The
// messages are protobuf well-known types, so the service needs no
// generated message code; the descriptor and client below follow the
// shape protoc-gen-go-grpc emits.
package adminpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "warden.admin.v1.Admin"

const (
	Admin_Stats_FullMethodName     = "/" + ServiceName + "/Stats"
	Admin_Rotate_FullMethodName    = "/" + ServiceName + "/Rotate"
	Admin_SetManual_FullMethodName = "/" + ServiceName + "/SetManual"
	Admin_Track_FullMethodName     = "/" + ServiceName + "/Track"
	Admin_Release_FullMethodName   = "/" + ServiceName + "/Release"
)

// AdminServer is the server API for the Admin service.
type AdminServer interface {
	// Stats reports epoch, mode and tracking counters.
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Rotate advances the epoch and returns the new value.
	Rotate(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	// SetManual switches manual-only rotation on or off.
	SetManual(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	// Track allocates and tracks a block of the given size; it returns the address.
	Track(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.UInt64Value, error)
	// Release drops the root reference on an address.
	Release(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error)
}

// UnimplementedAdminServer can be embedded for forward compatibility.
type UnimplementedAdminServer struct{}

func (UnimplementedAdminServer) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}

func (UnimplementedAdminServer) Rotate(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Rotate not implemented")
}

func (UnimplementedAdminServer) SetManual(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetManual not implemented")
}

func (UnimplementedAdminServer) Track(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.UInt64Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Track not implemented")
}

func (UnimplementedAdminServer) Release(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Release not implemented")
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&Admin_ServiceDesc, srv)
}

func _Admin_Stats_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Admin_Stats_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Rotate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Rotate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Admin_Rotate_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Rotate(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_SetManual_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).SetManual(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Admin_SetManual_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).SetManual(ctx, req.(*wrapperspb.BoolValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Track_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Track(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Admin_Track_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Track(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Release_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Release(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Admin_Release_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Release(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// Admin_ServiceDesc is the grpc.ServiceDesc for the Admin service.
var Admin_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: _Admin_Stats_Handler},
		{MethodName: "Rotate", Handler: _Admin_Rotate_Handler},
		{MethodName: "SetManual", Handler: _Admin_SetManual_Handler},
		{MethodName: "Track", Handler: _Admin_Track_Handler},
		{MethodName: "Release", Handler: _Admin_Release_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warden/admin/v1/admin.proto",
}

// AdminClient is the client API for the Admin service.
type AdminClient interface {
	Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Rotate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error)
	SetManual(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Track(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error)
	Release(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type adminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return &adminClient{cc}
}

func (c *adminClient) Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Admin_Stats_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Rotate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, Admin_Rotate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) SetManual(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Admin_SetManual_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Track(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, Admin_Track_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Release(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, Admin_Release_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
