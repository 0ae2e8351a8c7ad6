// Package profile wires a named sync profile's store and authority
// into connections. A profile is the unit of isolation: certificates,
// definitions, and sessions never cross profiles.
package profile

import (
	"context"

	"github.com/rs/zerolog"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/protocol"
	"peersync.dev/peersync/store"
	"peersync.dev/peersync/transport"
)

// Controller owns the local state of one profile.
type Controller struct {
	name      string
	store     store.Store
	authority *cert.Authority
	log       zerolog.Logger
}

func NewController(name string, st store.Store, log zerolog.Logger) *Controller {
	return &Controller{
		name:      name,
		store:     st,
		authority: cert.NewAuthority(st, st),
		log:       log,
	}
}

// Name returns the profile name.
func (c *Controller) Name() string { return c.name }

// Store exposes the profile's backing store.
func (c *Controller) Store() store.Store { return c.store }

// Authority exposes the profile's certificate authority.
func (c *Controller) Authority() *cert.Authority { return c.authority }

// NewConnection returns a fresh protocol connection to one remote peer
// over the given transport.
func (c *Controller) NewConnection(t transport.Transport) *protocol.Connection {
	return protocol.NewConnection(c.name, t, c.store, c.log)
}

// GenerateRootCertificate creates and persists a self-signed root
// under the named scope definition. The definition must already be
// registered in the store.
func (c *Controller) GenerateRootCertificate(ctx context.Context, definitionID string) (*cert.Certificate, error) {
	def, err := c.store.ScopeDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	root, err := c.authority.GenerateRoot(def, c.name)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpsertCertificate(ctx, root); err != nil {
		return nil, err
	}
	c.log.Info().Str("certificate", root.ID).Str("definition", definitionID).
		Msg("root certificate generated")
	return root, nil
}

// OwnCertificates lists the profile's certificates whose private key
// is held locally, the ones this node can authenticate or sign with.
func (c *Controller) OwnCertificates(ctx context.Context) ([]*cert.Certificate, error) {
	all, err := c.store.Certificates(ctx, c.name)
	if err != nil {
		return nil, err
	}
	var out []*cert.Certificate
	for _, crt := range all {
		if crt.HasPrivateKey() {
			out = append(out, crt)
		}
	}
	return out, nil
}
