package syncgrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"peersync.dev/peersync/transport"
)

// Client implements transport.Transport over the Sync gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client SyncClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an established connection; useful with in-memory
// listeners in tests.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewSyncClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Send delivers one request. Delivery failures (the peer unreachable,
// the deadline exceeded) surface as errors; anything the remote
// service answered, success or rejection, comes back as a Response.
func (c *Client) Send(ctx context.Context, endpoint string, payload []byte) (*transport.Response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	in := wrapperspb.Bytes(payload)
	var (
		out *wrapperspb.BytesValue
		err error
	)
	switch endpoint {
	case transport.EndpointCreateSyncSession:
		out, err = c.client.CreateSyncSession(ctx, in)
	case transport.EndpointCloseSyncSession:
		out, err = c.client.CloseSyncSession(ctx, in)
	case transport.EndpointCertificates:
		out, err = c.client.Certificates(ctx, in)
	case transport.EndpointCertificateChain:
		out, err = c.client.CertificateChain(ctx, in)
	case transport.EndpointSignCertificate:
		out, err = c.client.SignCertificate(ctx, in)
	default:
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}
	if err != nil {
		return mapRPC(err)
	}
	return &transport.Response{Status: 200, Body: out.GetValue()}, nil
}

// mapRPC folds an RPC error into transport semantics: codes the remote
// service chose become response statuses, everything else stays a
// delivery error.
func mapRPC(err error) (*transport.Response, error) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, err
	}
	var httpStatus int
	switch st.Code() {
	case codes.InvalidArgument:
		httpStatus = 400
	case codes.PermissionDenied:
		httpStatus = 403
	case codes.NotFound:
		httpStatus = 404
	case codes.FailedPrecondition:
		httpStatus = 412
	case codes.Internal:
		httpStatus = 500
	case codes.Unimplemented:
		httpStatus = 501
	default:
		// Unavailable, DeadlineExceeded, Canceled and friends mean the
		// request may never have reached the service.
		return nil, err
	}
	return &transport.Response{Status: httpStatus, Body: []byte(st.Message())}, nil
}
