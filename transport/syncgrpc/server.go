package syncgrpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/peerservice"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

// Server exposes a peerservice.Service over the Sync gRPC service.
type Server struct {
	UnimplementedSyncServer
	Service *peerservice.Service
}

func (s *Server) CreateSyncSession(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	var req transport.CreateSyncSessionRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request payload")
	}
	out, err := s.Service.CreateSyncSession(ctx, &req)
	if err != nil {
		return nil, mapErr(err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, status.Error(codes.Internal, "response encoding failed")
	}
	return wrapperspb.Bytes(body), nil
}

func (s *Server) CloseSyncSession(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	var req transport.CloseSyncSessionRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request payload")
	}
	if err := s.Service.CloseSyncSession(ctx, &req); err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(nil), nil
}

func (s *Server) Certificates(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	var req transport.CertificatesRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request payload")
	}
	out, err := s.Service.Certificates(ctx, &req)
	if err != nil {
		return nil, mapErr(err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, status.Error(codes.Internal, "response encoding failed")
	}
	return wrapperspb.Bytes(body), nil
}

func (s *Server) CertificateChain(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	var req transport.CertificateChainRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request payload")
	}
	out, err := s.Service.CertificateChain(ctx, &req)
	if err != nil {
		return nil, mapErr(err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, status.Error(codes.Internal, "response encoding failed")
	}
	return wrapperspb.Bytes(body), nil
}

func (s *Server) SignCertificate(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	var req transport.SignCertificateRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request payload")
	}
	out, err := s.Service.SignCertificate(ctx, &req)
	if err != nil {
		return nil, mapErr(err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, status.Error(codes.Internal, "response encoding failed")
	}
	return wrapperspb.Bytes(body), nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case cert.IsKind(err, cert.KindSignatureInvalid), cert.IsKind(err, cert.KindNotAuthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case cert.IsKind(err, cert.KindMalformed), cert.IsKind(err, cert.KindScope):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, peerservice.ErrProfileMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
