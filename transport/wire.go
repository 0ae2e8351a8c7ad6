package transport

import (
	"encoding/json"

	"peersync.dev/peersync/cert"
)

// CreateSyncSessionRequest asks the remote peer to open a sync
// session. The client presents its full certificate chain (root first)
// and a fresh nonce the server must sign to prove possession of the
// server certificate's private key.
type CreateSyncSessionRequest struct {
	ID                  string        `json:"id"`
	Profile             string        `json:"profile"`
	ClientCertificateID string        `json:"client_certificate_id"`
	ServerCertificateID string        `json:"server_certificate_id"`
	Nonce               string        `json:"nonce"`
	CertificateChain    []cert.Record `json:"certificate_chain"`
}

// CreateSyncSessionResponse carries the server's possession proof and
// its FSIC snapshot. The signature covers sha256(id || nonce); the
// FSIC map is opaque to the protocol core and owned by the transfer
// engine.
type CreateSyncSessionResponse struct {
	Signature string          `json:"signature"`
	LocalFSIC json.RawMessage `json:"local_fsic"`
}

// CloseSyncSessionRequest marks a session closed on the remote side.
type CloseSyncSessionRequest struct {
	ID string `json:"id"`
}

// CertificatesRequest asks for the certificates rooted at a primary
// partition (a root certificate id).
type CertificatesRequest struct {
	Profile          string `json:"profile"`
	PrimaryPartition string `json:"primary_partition"`
}

// CertificateChainRequest asks for the ancestors of a certificate,
// inclusive.
type CertificateChainRequest struct {
	CertificateID string `json:"certificate_id"`
}

// SignCertificateRequest is a certificate signing request: the caller
// generated the keypair locally and submits only the public half.
type SignCertificateRequest struct {
	Profile           string `json:"profile"`
	ScopeDefinitionID string `json:"scope_definition_id"`
	ScopeParams       string `json:"scope_params"`
	PublicKey         string `json:"public_key"`
	ParentID          string `json:"parent_id"`
}

// PossessionProofMessage is the byte string a server signs to prove it
// holds the server certificate's private key for a new session.
func PossessionProofMessage(sessionID, nonce string) []byte {
	return []byte(sessionID + nonce)
}
