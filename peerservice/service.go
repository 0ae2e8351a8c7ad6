// Package peerservice implements the server half of the sync
// protocol: answering certificate queries, signing CSRs, proving key
// possession, and tracking server-side session state.
package peerservice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/session"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

// FSICFunc produces the local FSIC snapshot handed to clients at
// session creation. The token belongs to the transfer engine; the
// service passes it through unmodified.
type FSICFunc func(ctx context.Context, profile string) (json.RawMessage, error)

// Config assembles a Service.
type Config struct {
	Profile string
	Store   store.Store
	Log     zerolog.Logger

	// FSIC is optional; nil yields an empty snapshot.
	FSIC FSICFunc

	// Now is optional; nil uses time.Now.
	Now func() time.Time
}

// Service serves one profile's sync endpoints against a local store.
type Service struct {
	profile   string
	store     store.Store
	authority *cert.Authority
	log       zerolog.Logger
	fsic      FSICFunc
	now       func() time.Time
}

func New(cfg Config) *Service {
	s := &Service{
		profile:   cfg.Profile,
		store:     cfg.Store,
		authority: cert.NewAuthority(cfg.Store, cfg.Store),
		log:       cfg.Log,
		fsic:      cfg.FSIC,
		now:       cfg.Now,
	}
	if s.fsic == nil {
		s.fsic = func(context.Context, string) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateSyncSession verifies the presented client chain, persists it,
// records a server-side session, and returns a possession proof plus
// the local FSIC snapshot. Nothing is persisted unless the whole chain
// verifies.
func (s *Service) CreateSyncSession(ctx context.Context, req *transport.CreateSyncSessionRequest) (*transport.CreateSyncSessionResponse, error) {
	if req.Profile != s.profile {
		return nil, ErrProfileMismatch
	}
	presented := make([]*cert.Certificate, 0, len(req.CertificateChain))
	for _, rec := range req.CertificateChain {
		c, err := cert.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		presented = append(presented, c)
	}

	var clientCert *cert.Certificate
	for _, c := range presented {
		if c.ID == req.ClientCertificateID {
			clientCert = c
		}
	}
	if clientCert == nil {
		return nil, store.ErrNotFound
	}

	overlay := s.authority.WithOverlay(presented...)
	if err := overlay.VerifyChain(ctx, clientCert); err != nil {
		s.log.Warn().Str("client_cert", req.ClientCertificateID).Err(err).
			Msg("rejecting sync session: client chain failed verification")
		return nil, err
	}
	// Persist only the path the verification walk covered; records the
	// client presented outside it stay out of the store.
	chain, err := overlay.Chain(ctx, clientCert)
	if err != nil {
		return nil, err
	}

	serverCert, err := s.store.Certificate(ctx, req.ServerCertificateID)
	if err != nil {
		return nil, err
	}
	key := serverCert.PrivateKey()
	if key == nil {
		return nil, store.ErrNotFound
	}
	signature, err := key.Sign(transport.PossessionProofMessage(req.ID, req.Nonce))
	if err != nil {
		return nil, err
	}

	for _, c := range chain {
		if err := s.store.UpsertCertificate(ctx, c); err != nil {
			return nil, err
		}
	}

	now := s.now()
	sess := &session.SyncSession{
		ID:                  req.ID,
		Profile:             req.Profile,
		State:               session.StateActive,
		ClientCertificateID: req.ClientCertificateID,
		ServerCertificateID: req.ServerCertificateID,
		IsServer:            true,
		LastActivity:        now,
	}
	fsic, err := s.fsic(ctx, req.Profile)
	if err != nil {
		return nil, err
	}
	sess.LocalFSIC = fsic
	if err := s.store.UpsertSyncSession(ctx, sess); err != nil {
		return nil, err
	}

	s.log.Info().Str("session", sess.ID).Str("client_cert", req.ClientCertificateID).
		Msg("sync session created")
	return &transport.CreateSyncSessionResponse{Signature: signature, LocalFSIC: fsic}, nil
}

// CloseSyncSession closes the server-side session and cascades to its
// transfer sessions.
func (s *Service) CloseSyncSession(ctx context.Context, req *transport.CloseSyncSessionRequest) error {
	if err := s.store.CloseSyncSession(ctx, req.ID, s.now()); err != nil {
		return err
	}
	s.log.Info().Str("session", req.ID).Msg("sync session closed")
	return nil
}

// Certificates returns the certificates in the tree rooted at the
// given primary partition. The response is a plain listing; callers
// verify before trusting.
func (s *Service) Certificates(ctx context.Context, req *transport.CertificatesRequest) ([]cert.Record, error) {
	all, err := s.store.Certificates(ctx, req.Profile)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*cert.Certificate, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	var out []cert.Record
	for _, c := range all {
		if s.rootedAt(c, req.PrimaryPartition, byID) {
			out = append(out, c.WireRecord())
		}
	}
	return out, nil
}

func (s *Service) rootedAt(c *cert.Certificate, rootID string, byID map[string]*cert.Certificate) bool {
	seen := make(map[string]bool)
	for cur := c; cur != nil && !seen[cur.ID]; {
		seen[cur.ID] = true
		if cur.ID == rootID {
			return true
		}
		cur = byID[cur.ParentID]
	}
	return false
}

// CertificateChain returns the ancestors of a certificate, inclusive,
// root first.
func (s *Service) CertificateChain(ctx context.Context, req *transport.CertificateChainRequest) ([]cert.Record, error) {
	leaf, err := s.store.Certificate(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	chain, err := s.authority.Chain(ctx, leaf)
	if err != nil {
		return nil, err
	}
	out := make([]cert.Record, 0, len(chain))
	for _, c := range chain {
		out = append(out, c.WireRecord())
	}
	return out, nil
}

// SignCertificate answers a CSR: it builds the child certificate from
// the submitted public key, enforces scope narrowing against the
// parent, signs, persists, and returns the signed record.
func (s *Service) SignCertificate(ctx context.Context, req *transport.SignCertificateRequest) (*cert.Record, error) {
	if req.Profile != s.profile {
		return nil, ErrProfileMismatch
	}
	parent, err := s.store.Certificate(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}
	if !parent.HasPrivateKey() {
		return nil, store.ErrNotFound
	}
	def, err := s.store.ScopeDefinition(ctx, req.ScopeDefinitionID)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string)
	if err := json.Unmarshal([]byte(req.ScopeParams), &params); err != nil {
		return nil, err
	}
	subjectKey, err := cert.ParsePublicKey(req.PublicKey)
	if err != nil {
		return nil, err
	}

	child, err := s.authority.Issue(parent, def, params, subjectKey)
	if err != nil {
		return nil, err
	}
	if err := s.authority.Sign(ctx, parent, child); err != nil {
		s.log.Warn().Str("parent", parent.ID).Err(err).Msg("refusing CSR")
		return nil, err
	}
	if err := s.store.UpsertCertificate(ctx, child); err != nil {
		return nil, err
	}

	s.log.Info().Str("certificate", child.ID).Str("parent", parent.ID).Msg("certificate signed")
	rec := child.WireRecord()
	return &rec, nil
}
