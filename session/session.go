// Package session defines the lifecycle records for authenticated sync
// sessions and the directional transfer sessions nested inside them.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle tag of a session. A closed session never
// reopens; a new session is created instead.
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// SyncSession is an authenticated pairing between two certificates for
// one profile. At most one sync session per connection is active at a
// time; enforcement lives in the protocol layer, not here.
type SyncSession struct {
	ID      string
	Profile string
	State   State

	// ClientCertificateID and ServerCertificateID reference the two
	// certificates the session was authenticated under.
	ClientCertificateID string
	ServerCertificateID string

	// IsServer marks which side of the pairing this record belongs to.
	IsServer bool

	// LocalFSIC and RemoteFSIC are opaque incremental-sync tokens owned
	// by the transfer engine; they pass through this package unmodified.
	LocalFSIC  json.RawMessage
	RemoteFSIC json.RawMessage

	LastActivity time.Time
}

// TransferSession is one directional, scope-filtered bulk transfer
// nested under exactly one sync session. It cannot outlive its parent:
// closing the sync session cascades.
type TransferSession struct {
	ID            string
	SyncSessionID string

	// Filter is the concrete partition filter gating this transfer,
	// possibly a disjunction of several filters in wire form.
	Filter string

	// Push is true for local-to-remote transfers.
	Push bool

	State        State
	LastActivity time.Time
}

// NewSyncSession returns an active sync session between the two
// certificates.
func NewSyncSession(profile, clientCertID, serverCertID string, isServer bool, now time.Time) *SyncSession {
	return &SyncSession{
		ID:                  uuid.NewString(),
		Profile:             profile,
		State:               StateActive,
		ClientCertificateID: clientCertID,
		ServerCertificateID: serverCertID,
		IsServer:            isServer,
		LastActivity:        now,
	}
}

// NewTransferSession returns an active transfer session under the
// given sync session.
func NewTransferSession(syncSessionID, filter string, push bool, now time.Time) *TransferSession {
	return &TransferSession{
		ID:            uuid.NewString(),
		SyncSessionID: syncSessionID,
		Filter:        filter,
		Push:          push,
		State:         StateActive,
		LastActivity:  now,
	}
}

// Active reports whether the session is still open.
func (s *SyncSession) Active() bool { return s.State == StateActive }

// Touch records transfer-engine activity.
func (s *SyncSession) Touch(now time.Time) { s.LastActivity = now }

// Active reports whether the transfer is still open.
func (t *TransferSession) Active() bool { return t.State == StateActive }

// Touch records transfer-engine activity.
func (t *TransferSession) Touch(now time.Time) { t.LastActivity = now }
