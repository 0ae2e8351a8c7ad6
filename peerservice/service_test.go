package peerservice

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

const testProfile = "facilitydata"

type serviceFixture struct {
	store   *store.Memory
	svc     *Service
	root    *cert.Certificate
	client  *cert.Certificate
	records []cert.Record
}

// newServiceFixture builds a service whose store holds a root with its
// private key, plus a signed client certificate the store has never
// seen: the client must present it in the session request.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	rootDef := &scope.Definition{
		ID:                      "rootcert",
		Profile:                 testProfile,
		Version:                 1,
		PrimaryScopeParamKey:    "mainpartition",
		ReadWriteFilterTemplate: "${mainpartition}",
	}
	subDef := &scope.Definition{
		ID:                   "subcert",
		Profile:              testProfile,
		Version:              1,
		PrimaryScopeParamKey: "mainpartition",
		ReadFilterTemplate:   "${mainpartition}",
		WriteFilterTemplate:  "${mainpartition}:${subpartition}",
	}
	require.NoError(t, st.UpsertScopeDefinition(ctx, rootDef))
	require.NoError(t, st.UpsertScopeDefinition(ctx, subDef))

	authority := cert.NewAuthority(st, st)
	root, err := authority.GenerateRoot(rootDef, testProfile)
	require.NoError(t, err)
	require.NoError(t, st.UpsertCertificate(ctx, root))

	client, err := authority.Issue(root, subDef, map[string]string{
		"mainpartition": root.ID,
		"subpartition":  "learner",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, authority.Sign(ctx, root, client))

	return &serviceFixture{
		store:   st,
		svc:     New(Config{Profile: testProfile, Store: st, Log: zerolog.Nop()}),
		root:    root,
		client:  client,
		records: []cert.Record{root.WireRecord(), client.WireRecord()},
	}
}

func (f *serviceFixture) sessionRequest() *transport.CreateSyncSessionRequest {
	return &transport.CreateSyncSessionRequest{
		ID:                  uuid.NewString(),
		Profile:             testProfile,
		ClientCertificateID: f.client.ID,
		ServerCertificateID: f.root.ID,
		Nonce:               uuid.NewString(),
		CertificateChain:    f.records,
	}
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

func TestCreateSyncSessionPersistsVerifiedChain(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	req := f.sessionRequest()

	out, err := f.svc.CreateSyncSession(ctx, req)
	require.NoError(t, err)

	rootKey, err := cert.ParsePublicKey(f.root.PublicKey)
	require.NoError(t, err)
	require.NoError(t, rootKey.Verify(transport.PossessionProofMessage(req.ID, req.Nonce), out.Signature))

	stored, err := f.store.Certificate(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, f.client.Signature, stored.Signature)
}

func TestCreateSyncSessionIgnoresOffPathRecords(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	forged := forgedRecord(t, f.root.ID)

	req := f.sessionRequest()
	req.CertificateChain = append(req.CertificateChain, forged)

	_, err := f.svc.CreateSyncSession(ctx, req)
	require.NoError(t, err, "a valid client path must still authenticate")

	_, err = f.store.Certificate(ctx, forged.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "records outside the verified path must never be persisted")

	_, err = f.store.Certificate(ctx, f.client.ID)
	assert.NoError(t, err)
}

func TestCreateSyncSessionRejectsBrokenChain(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	tampered := f.client.WireRecord()
	tampered.ScopeParams = `{"mainpartition":"` + f.root.ID + `","subpartition":"widened"}`

	req := f.sessionRequest()
	req.CertificateChain = []cert.Record{f.root.WireRecord(), tampered}

	_, err := f.svc.CreateSyncSession(ctx, req)
	require.Error(t, err)
	assert.True(t, cert.IsKind(err, cert.KindSignatureInvalid))

	_, err = f.store.Certificate(ctx, f.client.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing persists when the chain fails verification")

	active, err := f.store.ActiveSyncSessions(ctx, testProfile)
	require.NoError(t, err)
	assert.Empty(t, active)
}
