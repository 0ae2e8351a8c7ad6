// Package protocol implements the client half of the sync protocol: a
// connection state machine over a transport, and the transfer
// orchestrator nested inside an authenticated session.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/session"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

// State is the connection's position in the protocol.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateSessionActive  State = "session_active"
	StateClosed         State = "closed"
)

// Connection drives the sync protocol against one remote peer. It is
// not safe for concurrent use; one goroutine owns a connection.
type Connection struct {
	profile   string
	transport transport.Transport
	store     store.Store
	authority *cert.Authority
	log       zerolog.Logger
	now       func() time.Time

	state   State
	session *session.SyncSession
}

// NewConnection returns a disconnected connection for the given
// profile. The store backs certificate resolution and session
// persistence.
func NewConnection(profile string, t transport.Transport, st store.Store, log zerolog.Logger) *Connection {
	return &Connection{
		profile:   profile,
		transport: t,
		store:     st,
		authority: cert.NewAuthority(st, st),
		log:       log,
		now:       time.Now,
		state:     StateDisconnected,
	}
}

// State returns the connection's current protocol state.
func (c *Connection) State() State { return c.state }

// Session returns the active sync session, or nil.
func (c *Connection) Session() *session.SyncSession {
	if c.state != StateSessionActive {
		return nil
	}
	return c.session
}

// send marshals a payload, delivers it, and folds non-2xx statuses
// into a StatusError. Transport failures stay distinct from signature
// failures: a StatusError or delivery error never carries a cert Kind.
func (c *Connection) send(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	resp, err := c.transport.Send(ctx, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", endpoint, err)
	}
	if !resp.OK() {
		return nil, &transport.StatusError{Endpoint: endpoint, Status: resp.Status, Body: resp.Body}
	}
	return resp.Body, nil
}

// CreateSyncSession authenticates a new session under the two given
// certificates. The remote chain must verify against local trust
// before anything crosses the wire; the server must then prove
// possession of the server certificate's private key by signing the
// session id and a fresh nonce. On any failure nothing is persisted
// and the connection moves to StateClosed.
func (c *Connection) CreateSyncSession(ctx context.Context, localCert, remoteCert *cert.Certificate) (*session.SyncSession, error) {
	if c.state == StateSessionActive {
		return nil, ErrSessionAlreadyActive
	}
	c.state = StateAuthenticating

	// Close out any sessions a crashed predecessor left dangling.
	stale, err := c.store.ActiveSyncSessions(ctx, c.profile)
	if err != nil {
		c.log.Warn().Err(err).Msg("could not list dangling sessions, skipping cleanup")
	}
	for _, s := range stale {
		if err := c.store.CloseSyncSession(ctx, s.ID, c.now()); err != nil {
			c.log.Warn().Str("session", s.ID).Err(err).Msg("could not close dangling session")
		}
	}

	if err := c.authority.VerifyChain(ctx, remoteCert); err != nil {
		c.state = StateClosed
		return nil, err
	}

	chain, err := c.authority.Chain(ctx, localCert)
	if err != nil {
		c.state = StateClosed
		return nil, err
	}
	records := make([]cert.Record, 0, len(chain))
	for _, link := range chain {
		records = append(records, link.WireRecord())
	}

	sess := session.NewSyncSession(c.profile, localCert.ID, remoteCert.ID, false, c.now())
	nonce := uuid.NewString()

	body, err := c.send(ctx, transport.EndpointCreateSyncSession, &transport.CreateSyncSessionRequest{
		ID:                  sess.ID,
		Profile:             c.profile,
		ClientCertificateID: localCert.ID,
		ServerCertificateID: remoteCert.ID,
		Nonce:               nonce,
		CertificateChain:    records,
	})
	if err != nil {
		c.state = StateClosed
		return nil, err
	}

	var out transport.CreateSyncSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.state = StateClosed
		return nil, fmt.Errorf("decode %s response: %w", transport.EndpointCreateSyncSession, err)
	}

	remoteKey, err := remoteCert.Key()
	if err != nil {
		c.state = StateClosed
		return nil, err
	}
	if err := remoteKey.Verify(transport.PossessionProofMessage(sess.ID, nonce), out.Signature); err != nil {
		c.state = StateClosed
		c.log.Warn().Str("server_cert", remoteCert.ID).Err(err).
			Msg("server failed possession proof")
		return nil, err
	}

	sess.RemoteFSIC = out.LocalFSIC
	if err := c.store.UpsertSyncSession(ctx, sess); err != nil {
		c.state = StateClosed
		return nil, err
	}

	c.session = sess
	c.state = StateSessionActive
	c.log.Info().Str("session", sess.ID).Str("server_cert", remoteCert.ID).
		Msg("sync session established")
	return sess, nil
}

// GetRemoteCertificates lists the remote peer's certificates rooted at
// a primary partition. The results are unverified and unpersisted;
// pair with GetCertificateChain before trusting any of them.
func (c *Connection) GetRemoteCertificates(ctx context.Context, primaryPartition string) ([]*cert.Certificate, error) {
	body, err := c.send(ctx, transport.EndpointCertificates, &transport.CertificatesRequest{
		Profile:          c.profile,
		PrimaryPartition: primaryPartition,
	})
	if err != nil {
		return nil, err
	}
	var records []cert.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", transport.EndpointCertificates, err)
	}
	out := make([]*cert.Certificate, 0, len(records))
	for _, rec := range records {
		parsed, err := cert.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// GetCertificateChain fetches the ancestors of a remote certificate,
// verifies the whole chain against an in-memory overlay, and persists
// only the leaf-to-root path the verification walk covered. Records
// the response carries outside that path are discarded unpersisted.
func (c *Connection) GetCertificateChain(ctx context.Context, leafID string) ([]*cert.Certificate, error) {
	body, err := c.send(ctx, transport.EndpointCertificateChain, &transport.CertificateChainRequest{CertificateID: leafID})
	if err != nil {
		return nil, err
	}
	var records []cert.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", transport.EndpointCertificateChain, err)
	}

	presented := make([]*cert.Certificate, 0, len(records))
	var leaf *cert.Certificate
	for _, rec := range records {
		parsed, err := cert.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		presented = append(presented, parsed)
		if parsed.ID == leafID {
			leaf = parsed
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("%s: response chain does not contain certificate %s", transport.EndpointCertificateChain, leafID)
	}

	overlay := c.authority.WithOverlay(presented...)
	if err := overlay.VerifyChain(ctx, leaf); err != nil {
		return nil, err
	}
	chain, err := overlay.Chain(ctx, leaf)
	if err != nil {
		return nil, err
	}
	for _, link := range chain {
		if err := c.store.UpsertCertificate(ctx, link); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// CertificateSigningRequest generates a fresh keypair, asks the remote
// peer to certify it under parent with the given scope, and persists
// the returned certificate, with the private key attached, after
// verifying it. The private key never crosses the wire.
func (c *Connection) CertificateSigningRequest(ctx context.Context, parent *cert.Certificate, scopeDefinitionID string, scopeParams map[string]string) (*cert.Certificate, error) {
	key, err := cert.GenerateKey()
	if err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(scopeParams)
	if err != nil {
		return nil, fmt.Errorf("encode scope params: %w", err)
	}

	body, err := c.send(ctx, transport.EndpointSignCertificate, &transport.SignCertificateRequest{
		Profile:           c.profile,
		ScopeDefinitionID: scopeDefinitionID,
		ScopeParams:       string(paramsJSON),
		PublicKey:         key.Public(),
		ParentID:          parent.ID,
	})
	if err != nil {
		return nil, err
	}

	var rec cert.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", transport.EndpointSignCertificate, err)
	}
	child, err := cert.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	if child.PublicKey != key.Public() {
		return nil, fmt.Errorf("%s: returned certificate carries a different public key", transport.EndpointSignCertificate)
	}

	if err := c.authority.WithOverlay(child, parent).VerifyChain(ctx, child); err != nil {
		return nil, err
	}
	if err := child.AttachPrivateKey(key); err != nil {
		return nil, err
	}
	if err := c.store.UpsertCertificate(ctx, child); err != nil {
		return nil, err
	}
	c.log.Info().Str("certificate", child.ID).Str("parent", parent.ID).Msg("certificate obtained")
	return child, nil
}

// CloseSyncSession notifies the remote peer, then closes the local
// session record and cascades to its transfer sessions. The remote
// notification is best effort: the local close proceeds even when the
// peer is unreachable.
func (c *Connection) CloseSyncSession(ctx context.Context) error {
	if c.session == nil {
		c.state = StateClosed
		return nil
	}

	if _, err := c.send(ctx, transport.EndpointCloseSyncSession, &transport.CloseSyncSessionRequest{ID: c.session.ID}); err != nil {
		c.log.Warn().Str("session", c.session.ID).Err(err).
			Msg("remote close failed, closing locally")
	}
	if err := c.store.CloseSyncSession(ctx, c.session.ID, c.now()); err != nil {
		return err
	}
	c.log.Info().Str("session", c.session.ID).Msg("sync session closed")
	c.session = nil
	c.state = StateClosed
	return nil
}
