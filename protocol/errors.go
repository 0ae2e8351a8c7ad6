package protocol

import "errors"

var (
	// ErrNoActiveSyncSession is returned for transfer operations
	// attempted outside an authenticated session.
	ErrNoActiveSyncSession = errors.New("no active sync session")

	// ErrSessionAlreadyActive is returned when a connection that
	// already holds an active session is asked to open another.
	ErrSessionAlreadyActive = errors.New("a sync session is already active on this connection")

	// ErrTransferSessionActive is returned when a new transfer is
	// requested while another is still open on the same orchestrator.
	ErrTransferSessionActive = errors.New("a transfer session is already active")
)
