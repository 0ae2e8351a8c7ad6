// Package transport defines the request transport a sync connection
// speaks through, and the JSON payload shapes that cross it. Payload
// field names are fixed for cross-peer interoperability.
package transport

import (
	"context"
	"fmt"
)

// Endpoints of the sync protocol. A transport maps these onto its own
// addressing scheme (RPC methods, URL paths).
const (
	EndpointCreateSyncSession = "syncsession/create"
	EndpointCloseSyncSession  = "syncsession/close"
	EndpointCertificates      = "certificates"
	EndpointCertificateChain  = "certificates/chain"
	EndpointSignCertificate   = "certificates/csr"
)

// Response is a transport-level reply. Status follows HTTP semantics:
// anything outside 2xx is a transport failure, which the protocol core
// keeps distinct from signature failures and never retries itself.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Transport delivers one request to the remote peer. Implementations
// must honor ctx cancellation and deadlines; the core imposes no retry
// policy of its own.
type Transport interface {
	Send(ctx context.Context, endpoint string, payload []byte) (*Response, error)
}

// StatusError is the error a caller sees for a non-2xx response.
type StatusError struct {
	Endpoint string
	Status   int
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: remote returned status %d", e.Endpoint, e.Status)
}
