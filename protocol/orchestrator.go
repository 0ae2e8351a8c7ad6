package protocol

import (
	"context"

	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
)

// Orchestrator manages the directional transfer sessions nested inside
// a connection's sync session. Transfer sessions are local records;
// opening or closing one involves no network round trip.
type Orchestrator struct {
	conn    *Connection
	current *session.TransferSession
}

func NewOrchestrator(conn *Connection) *Orchestrator {
	return &Orchestrator{conn: conn}
}

// Current returns the open transfer session, or nil.
func (o *Orchestrator) Current() *session.TransferSession { return o.current }

// CreateTransferSession opens a transfer in the given direction over
// the union of the given partition filters. It requires an active sync
// session and at most one transfer open at a time.
func (o *Orchestrator) CreateTransferSession(ctx context.Context, push bool, filters ...string) (*session.TransferSession, error) {
	sess := o.conn.Session()
	if sess == nil {
		return nil, ErrNoActiveSyncSession
	}
	if o.current != nil && o.current.Active() {
		return nil, ErrTransferSessionActive
	}

	combined := scope.NewFilterFromSlice(filters)
	t := session.NewTransferSession(sess.ID, combined.String(), push, o.conn.now())
	if err := o.conn.store.UpsertTransferSession(ctx, t); err != nil {
		return nil, err
	}
	o.current = t
	return t, nil
}

// CloseTransferSession closes the open transfer. Closing when nothing
// is open, or closing twice, is a no-op.
func (o *Orchestrator) CloseTransferSession(ctx context.Context) error {
	if o.current == nil {
		return nil
	}
	if err := o.conn.store.CloseTransferSession(ctx, o.current.ID, o.conn.now()); err != nil {
		return err
	}
	o.current = nil
	return nil
}

// RecordActivity stamps the sync session, and the open transfer if
// any, with the current time. The transfer engine calls this as data
// moves so that staleness sweeps do not reap live sessions.
func (o *Orchestrator) RecordActivity(ctx context.Context) error {
	sess := o.conn.Session()
	if sess == nil {
		return ErrNoActiveSyncSession
	}
	now := o.conn.now()
	sess.Touch(now)
	if err := o.conn.store.UpsertSyncSession(ctx, sess); err != nil {
		return err
	}
	if o.current != nil && o.current.Active() {
		o.current.Touch(now)
		return o.conn.store.UpsertTransferSession(ctx, o.current)
	}
	return nil
}
