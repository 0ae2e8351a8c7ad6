package cert

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Sealed private key format: "sealed:v1:" + base64(salt || nonce || box).
// The box key is derived from the passphrase with argon2id.
const sealedPrefix = "sealed:v1:"

const (
	sealSaltSize  = 16
	sealNonceSize = 24

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

func sealKey(passphrase, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, 32))
	return &key
}

// SealPrivateKey encrypts a private key's wire encoding under a
// passphrase, for moving a certificate identity between devices. The
// sealed form is safe to write to disk or paste through a side
// channel; it is never part of the sync protocol.
func SealPrivateKey(k *Key, passphrase []byte) (string, error) {
	encoded, err := k.MarshalPrivate()
	if err != nil {
		return "", err
	}
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", wrapError(KindCrypto, "PSYNC-CERT-551", "salt generation failed", err)
	}
	var nonce [sealNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", wrapError(KindCrypto, "PSYNC-CERT-551", "nonce generation failed", err)
	}

	box := secretbox.Seal(nil, []byte(encoded), &nonce, sealKey(passphrase, salt))
	blob := make([]byte, 0, len(salt)+len(nonce)+len(box))
	blob = append(blob, salt...)
	blob = append(blob, nonce[:]...)
	blob = append(blob, box...)
	return sealedPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// OpenPrivateKey decrypts a sealed private key. A wrong passphrase and
// a tampered blob are indistinguishable.
func OpenPrivateKey(sealed string, passphrase []byte) (*Key, error) {
	enc, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return nil, newError(KindMalformed, "PSYNC-CERT-552", "not a sealed private key")
	}
	blob, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, wrapError(KindMalformed, "PSYNC-CERT-553", "invalid sealed key base64", err)
	}
	if len(blob) < sealSaltSize+sealNonceSize+secretbox.Overhead {
		return nil, newError(KindMalformed, "PSYNC-CERT-553", "sealed key too short")
	}

	salt := blob[:sealSaltSize]
	var nonce [sealNonceSize]byte
	copy(nonce[:], blob[sealSaltSize:sealSaltSize+sealNonceSize])
	box := blob[sealSaltSize+sealNonceSize:]

	encoded, ok := secretbox.Open(nil, box, &nonce, sealKey(passphrase, salt))
	if !ok {
		return nil, newError(KindCrypto, "PSYNC-CERT-554", "wrong passphrase or corrupted sealed key")
	}
	return ParsePrivateKey(string(encoded))
}
