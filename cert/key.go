package cert

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Algorithm names a supported signature scheme.
type Algorithm string

const (
	AlgEd25519    Algorithm = "ed25519"
	AlgDilithium3 Algorithm = "dilithium3"
)

// Key wraps an asymmetric keypair. A Key holds at minimum the public
// half; private material is present only for locally generated or
// locally stored keys and never leaves the process through Public().
type Key struct {
	alg Algorithm

	edPub  ed25519.PublicKey
	edPriv ed25519.PrivateKey

	d3Pub  *mode3.PublicKey
	d3Priv *mode3.PrivateKey
}

// GenerateKey returns a fresh ed25519 keypair.
func GenerateKey() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, wrapError(KindCrypto, "PSYNC-CERT-501", "key generation failed", err)
	}
	return &Key{alg: AlgEd25519, edPub: pub, edPriv: priv}, nil
}

// GenerateDilithium3Key returns a fresh dilithium3 keypair. A nil rng
// uses crypto/rand.
func GenerateDilithium3Key(rng io.Reader) (*Key, error) {
	if rng == nil {
		rng = rand.Reader
	}
	pub, priv, err := mode3.GenerateKey(rng)
	if err != nil {
		return nil, wrapError(KindCrypto, "PSYNC-CERT-501", "key generation failed", err)
	}
	return &Key{alg: AlgDilithium3, d3Pub: pub, d3Priv: priv}, nil
}

// Algorithm returns the key's signature scheme.
func (k *Key) Algorithm() Algorithm {
	return k.alg
}

// HasPrivate reports whether private key material is present.
func (k *Key) HasPrivate() bool {
	if k == nil {
		return false
	}
	return k.edPriv != nil || k.d3Priv != nil
}

// Public returns the wire encoding of the public key: <alg>:<base64>.
func (k *Key) Public() string {
	switch k.alg {
	case AlgEd25519:
		return string(AlgEd25519) + ":" + base64.StdEncoding.EncodeToString(k.edPub)
	case AlgDilithium3:
		b, err := k.d3Pub.MarshalBinary()
		if err != nil {
			return ""
		}
		return string(AlgDilithium3) + ":" + base64.StdEncoding.EncodeToString(b)
	default:
		return ""
	}
}

// ParsePublicKey decodes a wire-encoded public key into a
// verification-only Key.
func ParsePublicKey(s string) (*Key, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok {
		return nil, newError(KindCrypto, "PSYNC-CERT-511", "invalid public key encoding")
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, wrapError(KindCrypto, "PSYNC-CERT-512", "invalid public key base64", err)
	}
	switch Algorithm(alg) {
	case AlgEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return nil, newError(KindCrypto, "PSYNC-CERT-513", "invalid ed25519 public key length")
		}
		return &Key{alg: AlgEd25519, edPub: ed25519.PublicKey(raw)}, nil
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(raw); err != nil {
			return nil, wrapError(KindCrypto, "PSYNC-CERT-514", "invalid dilithium3 public key", err)
		}
		return &Key{alg: AlgDilithium3, d3Pub: &pk}, nil
	default:
		return nil, newError(KindCrypto, "PSYNC-CERT-515", "unsupported public key algorithm")
	}
}

// MarshalPrivate returns the wire encoding of the private key:
// <alg>:<base64>. For ed25519 the encoding carries the seed. Intended
// for local storage only; private keys never cross the network.
func (k *Key) MarshalPrivate() (string, error) {
	if !k.HasPrivate() {
		return "", newError(KindCrypto, "PSYNC-CERT-521", "no private key material")
	}
	switch k.alg {
	case AlgEd25519:
		return string(AlgEd25519) + ":" + base64.StdEncoding.EncodeToString(k.edPriv.Seed()), nil
	case AlgDilithium3:
		b, err := k.d3Priv.MarshalBinary()
		if err != nil {
			return "", wrapError(KindCrypto, "PSYNC-CERT-522", "private key encoding failed", err)
		}
		return string(AlgDilithium3) + ":" + base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", newError(KindCrypto, "PSYNC-CERT-515", "unsupported public key algorithm")
	}
}

// ParsePrivateKey decodes a stored private key into a full keypair.
func ParsePrivateKey(s string) (*Key, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok {
		return nil, newError(KindCrypto, "PSYNC-CERT-511", "invalid private key encoding")
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, wrapError(KindCrypto, "PSYNC-CERT-512", "invalid private key base64", err)
	}
	switch Algorithm(alg) {
	case AlgEd25519:
		if len(raw) != ed25519.SeedSize {
			return nil, newError(KindCrypto, "PSYNC-CERT-523", "invalid ed25519 seed length")
		}
		priv := ed25519.NewKeyFromSeed(raw)
		return &Key{alg: AlgEd25519, edPub: priv.Public().(ed25519.PublicKey), edPriv: priv}, nil
	case AlgDilithium3:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(raw); err != nil {
			return nil, wrapError(KindCrypto, "PSYNC-CERT-524", "invalid dilithium3 private key", err)
		}
		pk := sk.Public().(*mode3.PublicKey)
		return &Key{alg: AlgDilithium3, d3Pub: pk, d3Priv: &sk}, nil
	default:
		return nil, newError(KindCrypto, "PSYNC-CERT-515", "unsupported public key algorithm")
	}
}

// Sign returns a base64 signature over sha256(message).
func (k *Key) Sign(message []byte) (string, error) {
	if !k.HasPrivate() {
		return "", newError(KindCrypto, "PSYNC-CERT-521", "no private key material")
	}
	digest := sha256.Sum256(message)
	switch k.alg {
	case AlgEd25519:
		sig := ed25519.Sign(k.edPriv, digest[:])
		return base64.StdEncoding.EncodeToString(sig), nil
	case AlgDilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(k.d3Priv, digest[:], sig)
		return base64.StdEncoding.EncodeToString(sig), nil
	default:
		return "", newError(KindCrypto, "PSYNC-CERT-515", "unsupported public key algorithm")
	}
}

// Verify checks a base64 signature over sha256(message) against the
// public key.
func (k *Key) Verify(message []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return wrapError(KindSignatureInvalid, "PSYNC-CERT-531", "invalid signature base64", err)
	}
	digest := sha256.Sum256(message)
	switch k.alg {
	case AlgEd25519:
		if len(sig) != ed25519.SignatureSize {
			return newError(KindSignatureInvalid, "PSYNC-CERT-532", "invalid ed25519 signature length")
		}
		if !ed25519.Verify(k.edPub, digest[:], sig) {
			return newError(KindSignatureInvalid, "PSYNC-CERT-401", "signature invalid")
		}
		return nil
	case AlgDilithium3:
		if len(sig) != mode3.SignatureSize {
			return newError(KindSignatureInvalid, "PSYNC-CERT-533", "invalid dilithium3 signature length")
		}
		if !mode3.Verify(k.d3Pub, digest[:], sig) {
			return newError(KindSignatureInvalid, "PSYNC-CERT-401", "signature invalid")
		}
		return nil
	default:
		return newError(KindCrypto, "PSYNC-CERT-515", "unsupported public key algorithm")
	}
}
