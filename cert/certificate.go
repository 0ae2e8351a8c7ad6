package cert

import (
	"bytes"
	"encoding/json"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Certificate is one node in a trust tree. It is a plain record: the
// parent reference is a non-owning id used only for chain traversal,
// and a certificate is never mutated after signing.
type Certificate struct {
	// ID is content-addressed: a CIDv1 (raw + sha2-256) over the wire
	// encoding of the public key. Two certificates with the same key
	// material are the same certificate.
	ID      string
	Profile string

	ScopeDefinitionID string
	ScopeVersion      int
	// ScopeParams is a JSON object mapping placeholder names to
	// concrete values, stored in its wire form.
	ScopeParams string

	// PublicKey is the wire encoding of the subject's public key.
	PublicKey string

	// ParentID is empty only for a self-signed root.
	ParentID string

	// Signature is the parent's signature (the certificate's own for a
	// root) over SignedScope().
	Signature string

	// private key material, populated only for locally held
	// certificates; never serialized.
	key *Key
}

// Record is the interoperable wire form of a certificate. Field names
// and shapes are fixed for cross-peer compatibility.
type Record struct {
	ID                string  `json:"id"`
	Profile           string  `json:"profile"`
	ScopeDefinitionID string  `json:"scope_definition_id"`
	ScopeVersion      int     `json:"scope_version"`
	ScopeParams       string  `json:"scope_params"`
	PublicKey         string  `json:"public_key"`
	ParentID          *string `json:"parent_id"`
	Signature         string  `json:"signature"`
}

// ContentID derives a certificate id from a wire-encoded public key.
func ContentID(publicKey string) (string, error) {
	sum, err := multihash.Sum([]byte(publicKey), multihash.SHA2_256, -1)
	if err != nil {
		return "", wrapError(KindCrypto, "PSYNC-CERT-541", "content id computation failed", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// signedRecord is the canonical serialization covered by a
// certificate's signature: the wire record without the signature,
// keys emitted in this fixed order.
type signedRecord struct {
	ID                string  `json:"id"`
	ParentID          *string `json:"parent_id"`
	Profile           string  `json:"profile"`
	PublicKey         string  `json:"public_key"`
	ScopeDefinitionID string  `json:"scope_definition_id"`
	ScopeParams       string  `json:"scope_params"`
	ScopeVersion      int     `json:"scope_version"`
}

// SignedScope returns the canonical bytes a parent signs when issuing
// this certificate. Any change to any field changes these bytes.
func (c *Certificate) SignedScope() ([]byte, error) {
	b, err := json.Marshal(signedRecord{
		ID:                c.ID,
		ParentID:          nullableID(c.ParentID),
		Profile:           c.Profile,
		PublicKey:         c.PublicKey,
		ScopeDefinitionID: c.ScopeDefinitionID,
		ScopeParams:       c.ScopeParams,
		ScopeVersion:      c.ScopeVersion,
	})
	if err != nil {
		return nil, wrapError(KindMalformed, "PSYNC-CERT-101", "canonical serialization failed", err)
	}
	return b, nil
}

// ScopeParamsMap decodes the scope params JSON object.
func (c *Certificate) ScopeParamsMap() (map[string]string, error) {
	params := make(map[string]string)
	dec := json.NewDecoder(bytes.NewReader([]byte(c.ScopeParams)))
	if err := dec.Decode(&params); err != nil {
		return nil, wrapError(KindMalformed, "PSYNC-CERT-102", "scope_params is not a JSON object of strings", err)
	}
	return params, nil
}

// IsRoot reports whether the certificate declares itself a self-signed
// root.
func (c *Certificate) IsRoot() bool {
	return c.ParentID == ""
}

// Key returns the certificate's key, including private material when
// held locally.
func (c *Certificate) Key() (*Key, error) {
	if c.key != nil {
		return c.key, nil
	}
	k, err := ParsePublicKey(c.PublicKey)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// HasPrivateKey reports whether this certificate's private key is held
// locally.
func (c *Certificate) HasPrivateKey() bool {
	return c.key.HasPrivate()
}

// AttachPrivateKey binds locally held private key material to the
// certificate. The key must match the certificate's public key.
func (c *Certificate) AttachPrivateKey(k *Key) error {
	if !k.HasPrivate() {
		return newError(KindCrypto, "PSYNC-CERT-521", "no private key material")
	}
	if k.Public() != c.PublicKey {
		return newError(KindCrypto, "PSYNC-CERT-542", "private key does not match certificate public key")
	}
	c.key = k
	return nil
}

// PrivateKey returns the locally held keypair, or nil.
func (c *Certificate) PrivateKey() *Key {
	if c.key.HasPrivate() {
		return c.key
	}
	return nil
}

// WireRecord converts the certificate to its interoperable wire form.
// Private key material never appears in a Record.
func (c *Certificate) WireRecord() Record {
	return Record{
		ID:                c.ID,
		Profile:           c.Profile,
		ScopeDefinitionID: c.ScopeDefinitionID,
		ScopeVersion:      c.ScopeVersion,
		ScopeParams:       c.ScopeParams,
		PublicKey:         c.PublicKey,
		ParentID:          nullableID(c.ParentID),
		Signature:         c.Signature,
	}
}

// FromRecord builds a certificate from its wire form. The record's id
// must match the content address of its public key.
func FromRecord(r Record) (*Certificate, error) {
	if r.PublicKey == "" {
		return nil, newError(KindMalformed, "PSYNC-CERT-103", "missing public_key")
	}
	id, err := ContentID(r.PublicKey)
	if err != nil {
		return nil, err
	}
	if r.ID != id {
		return nil, newError(KindMalformed, "PSYNC-CERT-104", "id does not match public key content address")
	}
	c := &Certificate{
		ID:                r.ID,
		Profile:           r.Profile,
		ScopeDefinitionID: r.ScopeDefinitionID,
		ScopeVersion:      r.ScopeVersion,
		ScopeParams:       r.ScopeParams,
		PublicKey:         r.PublicKey,
		Signature:         r.Signature,
	}
	if r.ParentID != nil {
		c.ParentID = *r.ParentID
	}
	return c, nil
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
