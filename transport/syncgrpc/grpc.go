// Package syncgrpc carries the sync protocol over gRPC. Payloads stay
// in their JSON wire form; each endpoint is one unary method moving
// opaque bytes.
package syncgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SyncServer is the server API for the Sync gRPC service.
//
// We intentionally use protobuf well-known wrapper types so this package does
// not require a protoc/codegen toolchain.
//
// Proto definition: sync.proto.
type SyncServer interface {
	CreateSyncSession(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CloseSyncSession(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Certificates(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CertificateChain(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SignCertificate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedSyncServer can be embedded to have forward compatible implementations.
type UnimplementedSyncServer struct{}

func (UnimplementedSyncServer) CreateSyncSession(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSyncSession not implemented")
}
func (UnimplementedSyncServer) CloseSyncSession(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CloseSyncSession not implemented")
}
func (UnimplementedSyncServer) Certificates(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Certificates not implemented")
}
func (UnimplementedSyncServer) CertificateChain(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CertificateChain not implemented")
}
func (UnimplementedSyncServer) SignCertificate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SignCertificate not implemented")
}

// RegisterSyncServer registers the Sync service on a gRPC server.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&Sync_ServiceDesc, srv)
}

// SyncClient is the client API for the Sync gRPC service.
type SyncClient interface {
	CreateSyncSession(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	CloseSyncSession(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Certificates(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	CertificateChain(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SignCertificate(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type syncClient struct{ cc grpc.ClientConnInterface }

func NewSyncClient(cc grpc.ClientConnInterface) SyncClient { return &syncClient{cc: cc} }

func (c *syncClient) CreateSyncSession(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/peersync.transport.syncgrpc.v1.Sync/CreateSyncSession", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) CloseSyncSession(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/peersync.transport.syncgrpc.v1.Sync/CloseSyncSession", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) Certificates(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/peersync.transport.syncgrpc.v1.Sync/Certificates", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) CertificateChain(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/peersync.transport.syncgrpc.v1.Sync/CertificateChain", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) SignCertificate(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/peersync.transport.syncgrpc.v1.Sync/SignCertificate", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _Sync_CreateSyncSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).CreateSyncSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peersync.transport.syncgrpc.v1.Sync/CreateSyncSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).CreateSyncSession(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_CloseSyncSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).CloseSyncSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peersync.transport.syncgrpc.v1.Sync/CloseSyncSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).CloseSyncSession(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_Certificates_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Certificates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peersync.transport.syncgrpc.v1.Sync/Certificates"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).Certificates(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_CertificateChain_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).CertificateChain(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peersync.transport.syncgrpc.v1.Sync/CertificateChain"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).CertificateChain(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_SignCertificate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).SignCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peersync.transport.syncgrpc.v1.Sync/SignCertificate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).SignCertificate(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Sync_ServiceDesc is the grpc.ServiceDesc for Sync service.
var Sync_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "peersync.transport.syncgrpc.v1.Sync",
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSyncSession", Handler: _Sync_CreateSyncSession_Handler},
		{MethodName: "CloseSyncSession", Handler: _Sync_CloseSyncSession_Handler},
		{MethodName: "Certificates", Handler: _Sync_Certificates_Handler},
		{MethodName: "CertificateChain", Handler: _Sync_CertificateChain_Handler},
		{MethodName: "SignCertificate", Handler: _Sync_SignCertificate_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sync.proto",
}
