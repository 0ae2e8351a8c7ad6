package store

import (
	"context"
	"sync"
	"time"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
)

// Memory is an in-process Store. Safe for concurrent use; the close
// cascade runs under a single write lock, so no reader can observe an
// active transfer session under a closed sync session.
type Memory struct {
	mu sync.RWMutex

	certs map[string]*cert.Certificate
	defs  map[string]*scope.Definition
	syncs map[string]*session.SyncSession
	xfers map[string]*session.TransferSession
}

func NewMemory() *Memory {
	return &Memory{
		certs: make(map[string]*cert.Certificate),
		defs:  make(map[string]*scope.Definition),
		syncs: make(map[string]*session.SyncSession),
		xfers: make(map[string]*session.TransferSession),
	}
}

func (m *Memory) Certificate(ctx context.Context, id string) (*cert.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpsertCertificate(ctx context.Context, c *cert.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	// Re-storing the public view of a certificate must not erase
	// locally held key material.
	if prev, ok := m.certs[c.ID]; ok && cp.PrivateKey() == nil {
		if k := prev.PrivateKey(); k != nil {
			if err := cp.AttachPrivateKey(k); err != nil {
				return err
			}
		}
	}
	m.certs[c.ID] = &cp
	return nil
}

func (m *Memory) Certificates(ctx context.Context, profile string) ([]*cert.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*cert.Certificate
	for _, c := range m.certs {
		if profile == "" || c.Profile == profile {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteCertificate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.certs[id]; !ok {
		return ErrNotFound
	}
	delete(m.certs, id)
	return nil
}

func (m *Memory) ScopeDefinition(ctx context.Context, id string) (*scope.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	dp := *d
	return &dp, nil
}

func (m *Memory) UpsertScopeDefinition(ctx context.Context, d *scope.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dp := *d
	m.defs[d.ID] = &dp
	return nil
}

func (m *Memory) SyncSession(ctx context.Context, id string) (*session.SyncSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.syncs[id]
	if !ok {
		return nil, ErrNotFound
	}
	sp := *s
	return &sp, nil
}

func (m *Memory) UpsertSyncSession(ctx context.Context, s *session.SyncSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp := *s
	m.syncs[s.ID] = &sp
	return nil
}

func (m *Memory) ActiveSyncSessions(ctx context.Context, profile string) ([]*session.SyncSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*session.SyncSession
	for _, s := range m.syncs {
		if s.State == session.StateActive && (profile == "" || s.Profile == profile) {
			sp := *s
			out = append(out, &sp)
		}
	}
	return out, nil
}

func (m *Memory) CloseSyncSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[id]
	if !ok {
		return ErrNotFound
	}
	if s.State == session.StateClosed {
		return nil
	}
	s.State = session.StateClosed
	s.LastActivity = at
	for _, t := range m.xfers {
		if t.SyncSessionID == id && t.State == session.StateActive {
			t.State = session.StateClosed
			t.LastActivity = at
		}
	}
	return nil
}

func (m *Memory) TransferSession(ctx context.Context, id string) (*session.TransferSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.xfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	tp := *t
	return &tp, nil
}

func (m *Memory) UpsertTransferSession(ctx context.Context, t *session.TransferSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp := *t
	m.xfers[t.ID] = &tp
	return nil
}

func (m *Memory) ActiveTransferSessions(ctx context.Context, syncSessionID string) ([]*session.TransferSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*session.TransferSession
	for _, t := range m.xfers {
		if t.State == session.StateActive && (syncSessionID == "" || t.SyncSessionID == syncSessionID) {
			tp := *t
			out = append(out, &tp)
		}
	}
	return out, nil
}

func (m *Memory) CloseTransferSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.xfers[id]
	if !ok {
		return ErrNotFound
	}
	if t.State == session.StateClosed {
		return nil
	}
	t.State = session.StateClosed
	t.LastActivity = at
	return nil
}
