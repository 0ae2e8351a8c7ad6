package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
)

func testCertificate(t *testing.T) *cert.Certificate {
	t.Helper()
	def := &scope.Definition{
		ID:                      "rootcert",
		Profile:                 "facilitydata",
		Version:                 1,
		PrimaryScopeParamKey:    "mainpartition",
		ReadWriteFilterTemplate: "${mainpartition}",
	}
	a := cert.NewAuthority(cert.NewOverlay(nil), defsResolver{def})
	root, err := a.GenerateRoot(def, "facilitydata")
	require.NoError(t, err)
	return root
}

type defsResolver struct{ def *scope.Definition }

func (r defsResolver) ScopeDefinition(ctx context.Context, id string) (*scope.Definition, error) {
	if r.def != nil && r.def.ID == id {
		return r.def, nil
	}
	return nil, ErrNotFound
}

func TestMemoryCertificateUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	root := testCertificate(t)

	require.NoError(t, m.UpsertCertificate(ctx, root))
	require.NoError(t, m.UpsertCertificate(ctx, root))

	all, err := m.Certificates(ctx, "facilitydata")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	got, err := m.Certificate(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.Signature, got.Signature)
	assert.True(t, got.HasPrivateKey(), "locally generated private key must survive storage")
}

func TestMemoryUpsertPreservesPrivateKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	root := testCertificate(t)
	require.NoError(t, m.UpsertCertificate(ctx, root))

	public, err := cert.FromRecord(root.WireRecord())
	require.NoError(t, err)
	require.NoError(t, m.UpsertCertificate(ctx, public))

	got, err := m.Certificate(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, got.HasPrivateKey(), "upserting the public record must not erase held key material")
}

func TestMemoryCertificateNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Certificate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteCertificate(ctx, "missing"), ErrNotFound)
}

func TestMemoryScopeDefinitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	def := &scope.Definition{ID: "subcert", Profile: "facilitydata", Version: 1, ReadFilterTemplate: "${mainpartition}"}
	require.NoError(t, m.UpsertScopeDefinition(ctx, def))
	got, err := m.ScopeDefinition(ctx, "subcert")
	require.NoError(t, err)
	assert.Equal(t, def.ReadFilterTemplate, got.ReadFilterTemplate)
}

func TestMemoryCloseSyncSessionCascades(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := NewMemory()

	s := session.NewSyncSession("facilitydata", "client", "server", false, now)
	require.NoError(t, m.UpsertSyncSession(ctx, s))
	x1 := session.NewTransferSession(s.ID, "abc", true, now)
	x2 := session.NewTransferSession(s.ID, "def", false, now)
	require.NoError(t, m.UpsertTransferSession(ctx, x1))
	require.NoError(t, m.UpsertTransferSession(ctx, x2))

	active, err := m.ActiveTransferSessions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, m.CloseSyncSession(ctx, s.ID, now.Add(time.Second)))

	got, err := m.SyncSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, got.State)

	active, err = m.ActiveTransferSessions(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, active, "cascade must close nested transfer sessions")

	// Second close is a no-op.
	require.NoError(t, m.CloseSyncSession(ctx, s.ID, now.Add(2*time.Second)))
}

func TestMemoryCloseTransferSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := NewMemory()

	s := session.NewSyncSession("facilitydata", "client", "server", false, now)
	require.NoError(t, m.UpsertSyncSession(ctx, s))
	x := session.NewTransferSession(s.ID, "abc", true, now)
	require.NoError(t, m.UpsertTransferSession(ctx, x))

	require.NoError(t, m.CloseTransferSession(ctx, x.ID, now))
	require.NoError(t, m.CloseTransferSession(ctx, x.ID, now))

	got, err := m.TransferSession(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, got.State)
}

func TestMemoryActiveSyncSessionsFiltersByProfile(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := NewMemory()

	a := session.NewSyncSession("facilitydata", "c", "s", false, now)
	b := session.NewSyncSession("otherprofile", "c", "s", false, now)
	require.NoError(t, m.UpsertSyncSession(ctx, a))
	require.NoError(t, m.UpsertSyncSession(ctx, b))

	got, err := m.ActiveSyncSessions(ctx, "facilitydata")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
