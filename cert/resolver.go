package cert

import "context"

// Overlay resolves certificates from an in-memory set before falling
// back to a base resolver. It exists so fetched, not-yet-trusted
// chains can be verified without touching storage: verification always
// completes before anything is persisted.
type Overlay struct {
	base  CertificateResolver
	certs map[string]*Certificate
}

// NewOverlay builds an overlay over base (which may be nil) holding
// the given certificates.
func NewOverlay(base CertificateResolver, extra ...*Certificate) *Overlay {
	certs := make(map[string]*Certificate, len(extra))
	for _, c := range extra {
		certs[c.ID] = c
	}
	return &Overlay{base: base, certs: certs}
}

func (o *Overlay) Certificate(ctx context.Context, id string) (*Certificate, error) {
	if c, ok := o.certs[id]; ok {
		return c, nil
	}
	if o.base == nil {
		return nil, newError(KindSignatureInvalid, "PSYNC-CERT-403", "certificate not available")
	}
	return o.base.Certificate(ctx, id)
}
