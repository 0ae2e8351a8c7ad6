package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/peerservice"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

const testProfile = "facilitydata"

func testDefinitions() []*scope.Definition {
	return []*scope.Definition{
		{
			ID:                      "rootcert",
			Profile:                 testProfile,
			Version:                 1,
			PrimaryScopeParamKey:    "mainpartition",
			ReadWriteFilterTemplate: "${mainpartition}",
		},
		{
			ID:                   "subcert",
			Profile:              testProfile,
			Version:              1,
			PrimaryScopeParamKey: "mainpartition",
			ReadFilterTemplate:   "${mainpartition}",
			WriteFilterTemplate:  "${mainpartition}:${subpartition}",
		},
	}
}

// serviceTransport dispatches requests to a Service in-process,
// folding errors into transport statuses the way a real transport
// does.
type serviceTransport struct {
	svc *peerservice.Service
}

func (t *serviceTransport) Send(ctx context.Context, endpoint string, payload []byte) (*transport.Response, error) {
	switch endpoint {
	case transport.EndpointCreateSyncSession:
		var req transport.CreateSyncSessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return &transport.Response{Status: 400}, nil
		}
		out, err := t.svc.CreateSyncSession(ctx, &req)
		if err != nil {
			return errResponse(err), nil
		}
		return okResponse(201, out)
	case transport.EndpointCloseSyncSession:
		var req transport.CloseSyncSessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return &transport.Response{Status: 400}, nil
		}
		if err := t.svc.CloseSyncSession(ctx, &req); err != nil {
			return errResponse(err), nil
		}
		return &transport.Response{Status: 200}, nil
	case transport.EndpointCertificates:
		var req transport.CertificatesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return &transport.Response{Status: 400}, nil
		}
		out, err := t.svc.Certificates(ctx, &req)
		if err != nil {
			return errResponse(err), nil
		}
		return okResponse(200, out)
	case transport.EndpointCertificateChain:
		var req transport.CertificateChainRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return &transport.Response{Status: 400}, nil
		}
		out, err := t.svc.CertificateChain(ctx, &req)
		if err != nil {
			return errResponse(err), nil
		}
		return okResponse(200, out)
	case transport.EndpointSignCertificate:
		var req transport.SignCertificateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return &transport.Response{Status: 400}, nil
		}
		out, err := t.svc.SignCertificate(ctx, &req)
		if err != nil {
			return errResponse(err), nil
		}
		return okResponse(201, out)
	default:
		return &transport.Response{Status: 404}, nil
	}
}

func okResponse(status int, v any) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Response{Status: status, Body: body}, nil
}

func errResponse(err error) *transport.Response {
	status := 500
	switch {
	case cert.IsKind(err, cert.KindSignatureInvalid), cert.IsKind(err, cert.KindNotAuthorized):
		status = 403
	case errors.Is(err, store.ErrNotFound):
		status = 404
	}
	return &transport.Response{Status: status, Body: []byte(err.Error())}
}

// testPeers wires a client connection against a server service sharing
// nothing but the transport. The server holds a root certificate with
// its private key; the client holds the root's public record.
type testPeers struct {
	clientStore *store.Memory
	serverStore *store.Memory
	root        *cert.Certificate
	publicRoot  *cert.Certificate
	conn        *Connection
}

func newTestPeers(t *testing.T) *testPeers {
	t.Helper()
	ctx := context.Background()

	clientStore := store.NewMemory()
	serverStore := store.NewMemory()
	for _, def := range testDefinitions() {
		require.NoError(t, clientStore.UpsertScopeDefinition(ctx, def))
		require.NoError(t, serverStore.UpsertScopeDefinition(ctx, def))
	}

	authority := cert.NewAuthority(serverStore, serverStore)
	def, err := serverStore.ScopeDefinition(ctx, "rootcert")
	require.NoError(t, err)
	root, err := authority.GenerateRoot(def, testProfile)
	require.NoError(t, err)
	require.NoError(t, serverStore.UpsertCertificate(ctx, root))

	publicRoot, err := cert.FromRecord(root.WireRecord())
	require.NoError(t, err)
	require.NoError(t, clientStore.UpsertCertificate(ctx, publicRoot))

	svc := peerservice.New(peerservice.Config{
		Profile: testProfile,
		Store:   serverStore,
		Log:     zerolog.Nop(),
	})
	conn := NewConnection(testProfile, &serviceTransport{svc: svc}, clientStore, zerolog.Nop())

	return &testPeers{
		clientStore: clientStore,
		serverStore: serverStore,
		root:        root,
		publicRoot:  publicRoot,
		conn:        conn,
	}
}

func (p *testPeers) obtainCertificate(t *testing.T) *cert.Certificate {
	t.Helper()
	child, err := p.conn.CertificateSigningRequest(context.Background(), p.publicRoot, "subcert", map[string]string{
		"mainpartition": p.root.ID,
		"subpartition":  "learner",
	})
	require.NoError(t, err)
	return child
}

func TestCertificateSigningRequestPersistsSignedCertificate(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)

	child := p.obtainCertificate(t)
	assert.Equal(t, p.root.ID, child.ParentID)
	assert.True(t, child.HasPrivateKey(), "CSR must leave the private key attached locally")

	stored, err := p.clientStore.Certificate(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasPrivateKey())

	// The server kept only the public record.
	serverCopy, err := p.serverStore.Certificate(ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, serverCopy.HasPrivateKey(), "private key must never cross the wire")
}

func TestCertificateSigningRequestRejectionPersistsNothing(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)

	// A scope under an unknown definition cannot be derived server-side.
	_, err := p.conn.CertificateSigningRequest(ctx, p.publicRoot, "nosuchdef", map[string]string{
		"mainpartition": p.root.ID,
	})
	require.Error(t, err)
	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)

	all, err := p.clientStore.Certificates(ctx, testProfile)
	require.NoError(t, err)
	assert.Len(t, all, 1, "only the pre-seeded root may be present")
}

func TestCreateSyncSessionEstablishesBothSides(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	require.Equal(t, StateDisconnected, p.conn.State())
	sess, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)
	require.Equal(t, StateSessionActive, p.conn.State())

	assert.Equal(t, child.ID, sess.ClientCertificateID)
	assert.Equal(t, p.root.ID, sess.ServerCertificateID)
	assert.False(t, sess.IsServer)
	assert.JSONEq(t, `{}`, string(sess.RemoteFSIC))

	local, err := p.clientStore.ActiveSyncSessions(ctx, testProfile)
	require.NoError(t, err)
	require.Len(t, local, 1)

	remote, err := p.serverStore.ActiveSyncSessions(ctx, testProfile)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, sess.ID, remote[0].ID, "both sides share one session id")
	assert.True(t, remote[0].IsServer)
}

func TestCreateSyncSessionClosesDanglingSessions(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	first, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)

	// A fresh connection over the same store finds the leftover.
	conn2 := NewConnection(testProfile, p.conn.transport, p.clientStore, zerolog.Nop())
	second, err := conn2.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := p.clientStore.ActiveSyncSessions(ctx, testProfile)
	require.NoError(t, err)
	require.Len(t, active, 1, "stale sessions must be closed before a new one opens")
	assert.Equal(t, second.ID, active[0].ID)
}

// listFailStore breaks the active-session listing only.
type listFailStore struct {
	store.Store
}

func (listFailStore) ActiveSyncSessions(context.Context, string) ([]*session.SyncSession, error) {
	return nil, errors.New("store unavailable")
}

func TestCreateSyncSessionSurvivesCleanupListingFailure(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	conn := NewConnection(testProfile, p.conn.transport, listFailStore{p.clientStore}, zerolog.Nop())
	sess, err := conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err, "a failed cleanup listing must not abort the handshake")
	assert.Equal(t, StateSessionActive, conn.State())

	got, err := p.clientStore.SyncSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Active())
}

// tamperTransport corrupts the possession proof on its way back.
type tamperTransport struct {
	inner transport.Transport
}

func (t *tamperTransport) Send(ctx context.Context, endpoint string, payload []byte) (*transport.Response, error) {
	resp, err := t.inner.Send(ctx, endpoint, payload)
	if err != nil || endpoint != transport.EndpointCreateSyncSession || !resp.OK() {
		return resp, err
	}
	var out transport.CreateSyncSessionResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return resp, nil
	}
	out.Signature = "QUFBQQ=="
	body, _ := json.Marshal(out)
	return &transport.Response{Status: resp.Status, Body: body}, nil
}

func TestCreateSyncSessionRejectsForgedPossessionProof(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	conn := NewConnection(testProfile, &tamperTransport{inner: p.conn.transport}, p.clientStore, zerolog.Nop())
	_, err := conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.Error(t, err)
	assert.True(t, cert.IsKind(err, cert.KindSignatureInvalid))
	assert.Equal(t, StateClosed, conn.State())

	active, err := p.clientStore.ActiveSyncSessions(ctx, testProfile)
	require.NoError(t, err)
	assert.Empty(t, active, "nothing may persist when the possession proof fails")
}

func TestGetRemoteCertificatesDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	p.obtainCertificate(t)

	certs, err := p.conn.GetRemoteCertificates(ctx, p.root.ID)
	require.NoError(t, err)
	require.Len(t, certs, 2, "root and the freshly signed child")

	// Fetch-only: the extra certificate must not land in the store.
	freshStore := store.NewMemory()
	for _, def := range testDefinitions() {
		require.NoError(t, freshStore.UpsertScopeDefinition(ctx, def))
	}
	conn := NewConnection(testProfile, p.conn.transport, freshStore, zerolog.Nop())
	_, err = conn.GetRemoteCertificates(ctx, p.root.ID)
	require.NoError(t, err)
	all, err := freshStore.Certificates(ctx, testProfile)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetCertificateChainVerifiesAndPersists(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	freshStore := store.NewMemory()
	for _, def := range testDefinitions() {
		require.NoError(t, freshStore.UpsertScopeDefinition(ctx, def))
	}
	conn := NewConnection(testProfile, p.conn.transport, freshStore, zerolog.Nop())

	chain, err := conn.GetCertificateChain(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, p.root.ID, chain[0].ID, "chain is root first")
	assert.Equal(t, child.ID, chain[1].ID)

	for _, link := range chain {
		_, err := freshStore.Certificate(ctx, link.ID)
		assert.NoError(t, err)
	}
}

// injectingTransport appends a forged off-path record to chain
// responses: a fresh keypair with a matching content id, a garbage
// signature, and the root named as parent.
type injectingTransport struct {
	inner  transport.Transport
	forged cert.Record
}

func (t *injectingTransport) Send(ctx context.Context, endpoint string, payload []byte) (*transport.Response, error) {
	resp, err := t.inner.Send(ctx, endpoint, payload)
	if err != nil || endpoint != transport.EndpointCertificateChain || !resp.OK() {
		return resp, err
	}
	var records []cert.Record
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return resp, nil
	}
	records = append(records, t.forged)
	body, _ := json.Marshal(records)
	return &transport.Response{Status: resp.Status, Body: body}, nil
}

func forgedRecord(t *testing.T, parentID string) cert.Record {
	t.Helper()
	key, err := cert.GenerateKey()
	require.NoError(t, err)
	id, err := cert.ContentID(key.Public())
	require.NoError(t, err)
	return cert.Record{
		ID:                id,
		Profile:           testProfile,
		ScopeDefinitionID: "subcert",
		ScopeVersion:      1,
		ScopeParams:       `{"mainpartition":"` + parentID + `","subpartition":"x"}`,
		PublicKey:         key.Public(),
		ParentID:          &parentID,
		Signature:         "Qm9ndXNTaWduYXR1cmU=",
	}
}

func TestGetCertificateChainDiscardsOffPathRecords(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)
	forged := forgedRecord(t, p.root.ID)

	freshStore := store.NewMemory()
	for _, def := range testDefinitions() {
		require.NoError(t, freshStore.UpsertScopeDefinition(ctx, def))
	}
	conn := NewConnection(testProfile, &injectingTransport{inner: p.conn.transport, forged: forged}, freshStore, zerolog.Nop())

	chain, err := conn.GetCertificateChain(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2, "only the leaf-to-root path comes back")

	_, err = freshStore.Certificate(ctx, forged.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "off-path records must never be persisted")

	for _, id := range []string{p.root.ID, child.ID} {
		_, err := freshStore.Certificate(ctx, id)
		assert.NoError(t, err)
	}
}

func TestCloseSyncSessionCascadesLocally(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	sess, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)

	o := NewOrchestrator(p.conn)
	_, err = o.CreateTransferSession(ctx, true, "prefix1", "prefix2")
	require.NoError(t, err)

	require.NoError(t, p.conn.CloseSyncSession(ctx))
	assert.Equal(t, StateClosed, p.conn.State())
	assert.Nil(t, p.conn.Session())

	xfers, err := p.clientStore.ActiveTransferSessions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, xfers, "closing the sync session closes nested transfers")

	remote, err := p.serverStore.SyncSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, remote.Active(), "remote side is notified")
}

// failingTransport refuses every request.
type failingTransport struct{}

func (failingTransport) Send(context.Context, string, []byte) (*transport.Response, error) {
	return nil, errors.New("network unreachable")
}

func TestCloseSyncSessionIsBestEffortRemotely(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)

	sess, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)

	p.conn.transport = failingTransport{}
	require.NoError(t, p.conn.CloseSyncSession(ctx), "local close proceeds when the peer is unreachable")

	got, err := p.clientStore.SyncSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestOrchestratorRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)

	o := NewOrchestrator(p.conn)
	_, err := o.CreateTransferSession(ctx, true, "prefix")
	assert.ErrorIs(t, err, ErrNoActiveSyncSession)
	assert.ErrorIs(t, o.RecordActivity(ctx), ErrNoActiveSyncSession)
}

func TestOrchestratorSingleTransferAtATime(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)
	_, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)

	o := NewOrchestrator(p.conn)
	xfer, err := o.CreateTransferSession(ctx, false, "pb", "pa", "pb")
	require.NoError(t, err)
	assert.Equal(t, "pb\npa", xfer.Filter, "filters are unioned and deduplicated")

	_, err = o.CreateTransferSession(ctx, true, "other")
	assert.ErrorIs(t, err, ErrTransferSessionActive)

	require.NoError(t, o.CloseTransferSession(ctx))
	require.NoError(t, o.CloseTransferSession(ctx), "double close is a no-op")
	assert.Nil(t, o.Current())

	_, err = o.CreateTransferSession(ctx, true, "other")
	require.NoError(t, err)
}

func TestRecordActivityTouchesSessions(t *testing.T) {
	ctx := context.Background()
	p := newTestPeers(t)
	child := p.obtainCertificate(t)
	sess, err := p.conn.CreateSyncSession(ctx, child, p.publicRoot)
	require.NoError(t, err)

	o := NewOrchestrator(p.conn)
	xfer, err := o.CreateTransferSession(ctx, true, "prefix")
	require.NoError(t, err)

	before := xfer.LastActivity
	require.NoError(t, o.RecordActivity(ctx))

	gotSess, err := p.clientStore.SyncSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, gotSess.LastActivity.Before(before))

	gotXfer, err := p.clientStore.TransferSession(ctx, xfer.ID)
	require.NoError(t, err)
	assert.False(t, gotXfer.LastActivity.Before(before))
}
