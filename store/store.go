// Package store defines the persistence contracts for certificates,
// scope definitions, and session lifecycle state, plus an in-memory
// reference implementation.
package store

import (
	"context"
	"errors"
	"time"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
)

// ErrNotFound is returned when a keyed lookup has no match.
var ErrNotFound = errors.New("not found")

// CertificateStore is the keyed repository for certificates and the
// scope definitions they reference.
//
// Contract:
//   - UpsertCertificate MUST be idempotent: certificates are
//     content-addressed by id, so re-storing a fetched chain is a
//     no-op, never a duplicate.
//   - Certificates are immutable once stored; an upsert with the same
//     id replaces bytes with identical bytes (plus, possibly, locally
//     held private key material).
//   - Callers persist only verified certificates; the store performs
//     no verification of its own.
type CertificateStore interface {
	Certificate(ctx context.Context, id string) (*cert.Certificate, error)
	UpsertCertificate(ctx context.Context, c *cert.Certificate) error
	Certificates(ctx context.Context, profile string) ([]*cert.Certificate, error)
	DeleteCertificate(ctx context.Context, id string) error

	ScopeDefinition(ctx context.Context, id string) (*scope.Definition, error)
	UpsertScopeDefinition(ctx context.Context, d *scope.Definition) error
}

// SessionStore is the repository for sync and transfer session state.
//
// Contract:
//   - CloseSyncSession atomically closes the session AND every
//     transfer session nested under it: a reader must never observe an
//     active transfer session whose parent is closed.
//   - Closing an already-closed session of either kind is a no-op.
type SessionStore interface {
	SyncSession(ctx context.Context, id string) (*session.SyncSession, error)
	UpsertSyncSession(ctx context.Context, s *session.SyncSession) error
	ActiveSyncSessions(ctx context.Context, profile string) ([]*session.SyncSession, error)
	CloseSyncSession(ctx context.Context, id string, at time.Time) error

	TransferSession(ctx context.Context, id string) (*session.TransferSession, error)
	UpsertTransferSession(ctx context.Context, t *session.TransferSession) error
	ActiveTransferSessions(ctx context.Context, syncSessionID string) ([]*session.TransferSession, error)
	CloseTransferSession(ctx context.Context, id string, at time.Time) error
}

// Store is the combined repository a sync node operates against.
type Store interface {
	CertificateStore
	SessionStore
}
