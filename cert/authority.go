package cert

import (
	"context"
	"encoding/json"

	"peersync.dev/peersync/scope"
)

// CertificateResolver looks up certificates by id during chain
// traversal. The persistence layer satisfies this; so does an Overlay
// holding not-yet-trusted certificates in memory.
type CertificateResolver interface {
	Certificate(ctx context.Context, id string) (*Certificate, error)
}

// DefinitionResolver looks up scope definitions referenced by
// certificates.
type DefinitionResolver interface {
	ScopeDefinition(ctx context.Context, id string) (*scope.Definition, error)
}

// Authority implements verification and chain construction over
// certificates. It holds no state of its own; all certificates are
// owned by the resolver behind it.
type Authority struct {
	Certs CertificateResolver
	Defs  DefinitionResolver
}

func NewAuthority(certs CertificateResolver, defs DefinitionResolver) *Authority {
	return &Authority{Certs: certs, Defs: defs}
}

// WithOverlay returns an authority that resolves the given in-memory
// certificates before falling back to the underlying resolver. Used to
// verify fetched chains before anything is persisted.
func (a *Authority) WithOverlay(extra ...*Certificate) *Authority {
	return &Authority{Certs: NewOverlay(a.Certs, extra...), Defs: a.Defs}
}

// GenerateRoot creates a fresh keypair and a self-signed root
// certificate for the given scope definition. The definition's primary
// scope param defaults to the certificate's own id.
func (a *Authority) GenerateRoot(def *scope.Definition, profile string) (*Certificate, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	id, err := ContentID(key.Public())
	if err != nil {
		return nil, err
	}

	params := map[string]string{}
	if def.PrimaryScopeParamKey != "" {
		params[def.PrimaryScopeParamKey] = id
	}
	if _, err := def.Derive(params); err != nil {
		return nil, wrapError(KindScope, "PSYNC-CERT-301", "root scope derivation failed", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, wrapError(KindMalformed, "PSYNC-CERT-101", "canonical serialization failed", err)
	}

	c := &Certificate{
		ID:                id,
		Profile:           profile,
		ScopeDefinitionID: def.ID,
		ScopeVersion:      def.Version,
		ScopeParams:       string(paramsJSON),
		PublicKey:         key.Public(),
		key:               key,
	}
	signed, err := c.SignedScope()
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(signed)
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

// Issue builds an unsigned child certificate under parent. A nil
// subjectKey generates a fresh keypair for the subject.
func (a *Authority) Issue(parent *Certificate, def *scope.Definition, params map[string]string, subjectKey *Key) (*Certificate, error) {
	if subjectKey == nil {
		var err error
		subjectKey, err = GenerateKey()
		if err != nil {
			return nil, err
		}
	}
	if _, err := def.Derive(params); err != nil {
		return nil, wrapError(KindScope, "PSYNC-CERT-302", "scope derivation failed", err)
	}
	id, err := ContentID(subjectKey.Public())
	if err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, wrapError(KindMalformed, "PSYNC-CERT-101", "canonical serialization failed", err)
	}
	return &Certificate{
		ID:                id,
		Profile:           parent.Profile,
		ScopeDefinitionID: def.ID,
		ScopeVersion:      def.Version,
		ScopeParams:       string(paramsJSON),
		PublicKey:         subjectKey.Public(),
		ParentID:          parent.ID,
		key:               subjectKey,
	}, nil
}

// Sign has parent sign child's canonical serialization. It fails with
// a NotAuthorized error when child's scope is not a subset of parent's
// own scope: authorization narrows going down the tree, never widens.
func (a *Authority) Sign(ctx context.Context, parent, child *Certificate) error {
	if !parent.HasPrivateKey() {
		return newError(KindCrypto, "PSYNC-CERT-521", "no private key material")
	}
	if child.ParentID != parent.ID {
		return newError(KindNotAuthorized, "PSYNC-CERT-202", "certificate does not name the signer as parent")
	}
	if child.Profile != parent.Profile {
		return newError(KindNotAuthorized, "PSYNC-CERT-203", "certificate profile differs from the signer's")
	}

	childScope, err := a.scopeOf(ctx, child)
	if err != nil {
		return err
	}
	parentScope, err := a.scopeOf(ctx, parent)
	if err != nil {
		return err
	}
	if !childScope.SubsetOf(parentScope) {
		return newError(KindNotAuthorized, "PSYNC-CERT-201", "requested scope is not a subset of the signing certificate's scope")
	}

	signed, err := child.SignedScope()
	if err != nil {
		return err
	}
	sig, err := parent.key.Sign(signed)
	if err != nil {
		return err
	}
	child.Signature = sig
	return nil
}

// Verify checks a single link of the trust tree: the certificate's id
// matches its key material, its signature verifies against its
// parent's public key (its own for a root), and its scope narrows its
// parent's.
func (a *Authority) Verify(ctx context.Context, c *Certificate) error {
	id, err := ContentID(c.PublicKey)
	if err != nil {
		return err
	}
	if id != c.ID {
		return newError(KindSignatureInvalid, "PSYNC-CERT-402", "certificate id does not match public key")
	}
	if c.Signature == "" {
		return newError(KindSignatureInvalid, "PSYNC-CERT-406", "certificate is unsigned")
	}

	signed, err := c.SignedScope()
	if err != nil {
		return err
	}

	if c.IsRoot() {
		key, err := ParsePublicKey(c.PublicKey)
		if err != nil {
			return err
		}
		if err := key.Verify(signed, c.Signature); err != nil {
			return err
		}
		_, err = a.scopeOf(ctx, c)
		return err
	}

	parent, err := a.Certs.Certificate(ctx, c.ParentID)
	if err != nil {
		return wrapError(KindSignatureInvalid, "PSYNC-CERT-403", "parent certificate not available", err)
	}
	if parent.Profile != c.Profile {
		return newError(KindSignatureInvalid, "PSYNC-CERT-407", "certificate profile differs from parent's")
	}
	parentKey, err := ParsePublicKey(parent.PublicKey)
	if err != nil {
		return err
	}
	if err := parentKey.Verify(signed, c.Signature); err != nil {
		return err
	}

	childScope, err := a.scopeOf(ctx, c)
	if err != nil {
		return err
	}
	parentScope, err := a.scopeOf(ctx, parent)
	if err != nil {
		return err
	}
	if !childScope.SubsetOf(parentScope) {
		return newError(KindSignatureInvalid, "PSYNC-CERT-404", "certificate scope widens its parent's scope")
	}
	return nil
}

// VerifyChain walks from c to its root, verifying every link. It
// short-circuits on the first failure and rejects cyclic input via a
// visited-id set.
func (a *Authority) VerifyChain(ctx context.Context, c *Certificate) error {
	visited := make(map[string]bool)
	for cur := c; ; {
		if visited[cur.ID] {
			return newError(KindSignatureInvalid, "PSYNC-CERT-405", "certificate chain contains a cycle")
		}
		visited[cur.ID] = true

		if err := a.Verify(ctx, cur); err != nil {
			return err
		}
		if cur.IsRoot() {
			return nil
		}
		parent, err := a.Certs.Certificate(ctx, cur.ParentID)
		if err != nil {
			return wrapError(KindSignatureInvalid, "PSYNC-CERT-403", "parent certificate not available", err)
		}
		cur = parent
	}
}

// Chain returns the certificate's ancestors, root first and c itself
// last. It does not verify; pair with VerifyChain.
func (a *Authority) Chain(ctx context.Context, c *Certificate) ([]*Certificate, error) {
	visited := make(map[string]bool)
	var chain []*Certificate
	for cur := c; ; {
		if visited[cur.ID] {
			return nil, newError(KindSignatureInvalid, "PSYNC-CERT-405", "certificate chain contains a cycle")
		}
		visited[cur.ID] = true
		chain = append(chain, cur)
		if cur.IsRoot() {
			break
		}
		parent, err := a.Certs.Certificate(ctx, cur.ParentID)
		if err != nil {
			return nil, wrapError(KindSignatureInvalid, "PSYNC-CERT-403", "parent certificate not available", err)
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Scope derives the concrete authorization filters for a certificate.
func (a *Authority) Scope(ctx context.Context, c *Certificate) (scope.Scope, error) {
	return a.scopeOf(ctx, c)
}

func (a *Authority) scopeOf(ctx context.Context, c *Certificate) (scope.Scope, error) {
	def, err := a.Defs.ScopeDefinition(ctx, c.ScopeDefinitionID)
	if err != nil {
		return scope.Scope{}, wrapError(KindScope, "PSYNC-CERT-303", "scope definition not available", err)
	}
	if def.Version != c.ScopeVersion {
		return scope.Scope{}, newError(KindScope, "PSYNC-CERT-304", "scope definition version mismatch")
	}
	params, err := c.ScopeParamsMap()
	if err != nil {
		return scope.Scope{}, err
	}
	derived, err := def.Derive(params)
	if err != nil {
		return scope.Scope{}, wrapError(KindScope, "PSYNC-CERT-305", "scope derivation failed", err)
	}
	return derived, nil
}
